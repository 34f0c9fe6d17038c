package port

import (
	"io"

	"github.com/jwolter-go/vnetswitch/guestmem"
	"github.com/jwolter-go/vnetswitch/irq"
	"github.com/jwolter-go/vnetswitch/mac"
	"github.com/jwolter-go/vnetswitch/netio"
	"github.com/jwolter-go/vnetswitch/switchlog"
	"github.com/jwolter-go/vnetswitch/virtionet"
	"github.com/jwolter-go/vnetswitch/vlan"
)

// TxBatchSize bounds how many frames are read from the uplink device per
// fetch, matching port_ixl.h's Ixl_port::Tx_batch_size.
const TxBatchSize = 32

// MaxFramePayload is the largest single frame this port can stage, matching
// Ixl_port's fixed-size pkt_buf (Buf_size minus its header).
const MaxFramePayload = 2048 - 64

// UplinkPort is a port backed by a raw network device rather than a guest's
// virtqueues — a physical or tap-backed uplink into the switch. It adapts
// port_ixl.h's hardware-batch receive/transmit model onto an io.ReadWriter,
// since no hardware NIC driver is available in this environment; any device
// that satisfies io.ReadWriter can back it.
type UplinkPort struct {
	name string
	mac  mac.Addr
	role vlan.Role
	dev  io.ReadWriter
	log  *switchlog.Logger

	txBatch [][]byte
	txIdx   int
}

// NewUplinkPort builds an UplinkPort reading and writing frames through dev
// (e.g. a tap.Tap).
func NewUplinkPort(name string, macAddr mac.Addr, role vlan.Role, dev io.ReadWriter, log *switchlog.Logger) *UplinkPort {
	return &UplinkPort{name: name, mac: macAddr, role: role, dev: dev, log: log}
}

func (p *UplinkPort) Name() string      { return p.name }
func (p *UplinkPort) MAC() mac.Addr     { return p.mac }
func (p *UplinkPort) Role() vlan.Role   { return p.role }
func (p *UplinkPort) IsGone() bool      { return false }
func (p *UplinkPort) IRQSink() irq.Sink { return irq.Null }

// RxNotify{Disable,Enable} are no-ops: an uplink has no guest IRQ to
// suppress, matching Ixl_port's empty overrides (left as an optimization
// opportunity for batched hardware rx in the original).
func (p *UplinkPort) RxNotifyDisableAndRemember() {}
func (p *UplinkPort) RxNotifyEmitAndEnable()      {}

func (p *UplinkPort) ReschedulePendingTX() {}
func (p *UplinkPort) DeviceError()         {}

func (p *UplinkPort) fetch() {
	if p.txIdx < len(p.txBatch) {
		return
	}

	p.txBatch = p.txBatch[:0]
	p.txIdx = 0

	for i := 0; i < TxBatchSize; i++ {
		buf := make([]byte, MaxFramePayload)

		n, err := p.dev.Read(buf)
		if err != nil || n == 0 {
			break
		}

		p.txBatch = append(p.txBatch, buf[:n])
	}
}

func (p *UplinkPort) TXWorkPending() bool {
	p.fetch()

	return p.txIdx < len(p.txBatch)
}

// TakeNextTX returns the next batched frame as a synthetic request: no
// virtio-net header is present on the wire, so one is synthesized, matching
// request_ixl.h's copy_header.
func (p *UplinkPort) TakeNextTX() (*TXRequest, bool, error) {
	p.fetch()

	if p.txIdx >= len(p.txBatch) {
		return nil, false, nil
	}

	frame := p.txBatch[p.txIdx]
	p.txIdx++

	cur := guestmem.NewCursor([][]byte{frame})
	req, err := syntheticRequest(cur, p.name)
	if err != nil {
		return nil, false, err
	}

	return &TXRequest{req: req, queue: nil, head: 0, finished: true}, true, nil
}

// syntheticRequest builds a netio.Request directly over an already-decoded
// Ethernet frame with no leading virtio-net header, since the frame arrived
// from a raw NIC rather than a virtqueue.
func syntheticRequest(body *guestmem.Cursor, srcName string) (*netio.Request, error) {
	return netio.NewSyntheticRequest(body, virtionet.PassthroughHeader(), srcName)
}

// Deliver stages req's payload into a single frame buffer and writes it out
// to the uplink device, matching Ixl_port::handle_request's single pkt_buf
// staging and Ixl::Ixl_device::tx_batch call.
func (p *UplinkPort) Deliver(src Port, treq *TXRequest) Result {
	mg := vlan.ForRoles(src.Role(), p.Role())

	srcCur := treq.req.Transfer()
	out := make([]byte, MaxFramePayload)
	dstCur := guestmem.NewCursor([][]byte{out})

	for !srcCur.Done() {
		if dstCur.Remaining() == 0 {
			p.log.Tracef(switchlog.Request, "%s: frame exceeds max payload, dropping", p.name)

			return Dropped
		}

		mg.CopyPacket(dstCur, srcCur)
	}

	n := len(out) - int(dstCur.Remaining())

	if _, err := p.dev.Write(out[:n]); err != nil {
		p.log.Warnf(switchlog.Request, "%s: uplink write failed: %v", p.name, err)

		return Dropped
	}

	return Delivered
}
