package port

import (
	"github.com/jwolter-go/vnetswitch/capref"
	"github.com/jwolter-go/vnetswitch/guestmem"
	"github.com/jwolter-go/vnetswitch/irq"
	"github.com/jwolter-go/vnetswitch/mac"
	"github.com/jwolter-go/vnetswitch/netio"
	"github.com/jwolter-go/vnetswitch/switchlog"
	"github.com/jwolter-go/vnetswitch/virtionet"
	"github.com/jwolter-go/vnetswitch/virtqueue"
	"github.com/jwolter-go/vnetswitch/vlan"
)

// TXRequest is one popped tx descriptor chain, ready to be routed to zero or
// more destinations. It must be finished exactly once, which acknowledges
// the source descriptor regardless of how many destinations it was
// delivered to — matching Virtio_net_request's finish-on-destruction.
type TXRequest struct {
	req      *netio.Request
	queue    *virtqueue.Queue
	head     uint16
	finished bool
}

// Header exposes the source's virtio-net header.
func (t *TXRequest) Header() virtionet.Hdr { return t.req.Header() }

// DstMAC returns the frame's destination address.
func (t *TXRequest) DstMAC() mac.Addr { b := t.req.DstMAC(); return mac.New(b[:]) }

// SrcMAC returns the frame's source address.
func (t *TXRequest) SrcMAC() mac.Addr { b := t.req.SrcMAC(); return mac.New(b[:]) }

// HasVLAN reports whether the frame is 802.1Q tagged.
func (t *TXRequest) HasVLAN() bool { return t.req.HasVLAN() }

// VLANID returns the frame's tagged VLAN id, or netio.VLANNative.
func (t *TXRequest) VLANID() uint16 { return t.req.VLANID() }

// PeekHeader returns the best-effort raw Ethernet header bytes, for filter
// predicates.
func (t *TXRequest) PeekHeader() []byte {
	return t.req.Transfer().Peek(18)
}

// Finish acknowledges the source descriptor. Safe to call more than once;
// only the first call has an effect, matching the original's finish()
// being idempotent once _queue is cleared.
func (t *TXRequest) Finish() error {
	if t.finished {
		return nil
	}

	t.finished = true

	return t.queue.Finish(uint32(t.head), 0)
}

// VirtioPort is a guest-facing port backed by a pair of virtio-net
// virtqueues, grounded on port_l4virtio.h's L4virtio_port.
type VirtioPort struct {
	name string
	dev  *virtionet.Device
	role vlan.Role

	mem       *guestmem.Map
	txQueue   *virtqueue.Queue
	rxQueue   *virtqueue.Queue
	irqSink   irq.Sink
	peer      capref.Peer
	reschedFn func()

	log *switchlog.Logger

	rxSuspended     bool
	rxSuspendedKick bool
}

// VirtioPortConfig gathers the dependencies a VirtioPort needs, all supplied
// by the factory that constructs it.
type VirtioPortConfig struct {
	Name       string
	Device     *virtionet.Device
	Role       vlan.Role
	Mem        *guestmem.Map
	TXQueue    *virtqueue.Queue
	RXQueue    *virtqueue.Queue
	IRQSink    irq.Sink
	Peer       capref.Peer
	Reschedule func()
	Log        *switchlog.Logger
}

// NewVirtioPort builds a VirtioPort from cfg.
func NewVirtioPort(cfg VirtioPortConfig) *VirtioPort {
	peer := cfg.Peer
	if peer == nil {
		peer = capref.AlwaysAlive
	}

	sink := cfg.IRQSink
	if sink == nil {
		sink = irq.Null
	}

	return &VirtioPort{
		name: cfg.Name, dev: cfg.Device, role: cfg.Role, mem: cfg.Mem,
		txQueue: cfg.TXQueue, rxQueue: cfg.RXQueue, irqSink: sink,
		peer: peer, reschedFn: cfg.Reschedule, log: cfg.Log,
	}
}

func (p *VirtioPort) Name() string      { return p.name }
func (p *VirtioPort) MAC() mac.Addr     { return p.dev.Config().MAC }
func (p *VirtioPort) Role() vlan.Role   { return p.role }
func (p *VirtioPort) IRQSink() irq.Sink { return p.irqSink }

// IsGone reports whether the client side of this port's connection has
// vanished, matching L4virtio_port::is_gone's capability-validation check.
func (p *VirtioPort) IsGone() bool {
	return !p.peer.Alive()
}

// SetReschedule installs the callback invoked when a dispatch pass hits its
// TX burst limit. Separate from VirtioPortConfig because the callback
// typically closes over the port itself (e.g. "enqueue another dispatch of
// this port"), which does not exist yet at construction time.
func (p *VirtioPort) SetReschedule(f func()) {
	p.reschedFn = f
}

func (p *VirtioPort) ReschedulePendingTX() {
	if p.reschedFn != nil {
		p.reschedFn()
	}
}

func (p *VirtioPort) DeviceError() {
	p.dev.DeviceError()
}

func (p *VirtioPort) TXWorkPending() bool {
	has, err := p.txQueue.HasAvail()

	return err == nil && has
}

func (p *VirtioPort) hdrLen() int {
	if p.dev.GuestFeatures()&virtionet.FeatureMrgRxBuf != 0 {
		return virtionet.MrgHdrLen
	}

	return virtionet.BaseHdrLen
}

// TakeNextTX pops and decodes the next outstanding tx request.
func (p *VirtioPort) TakeNextTX() (*TXRequest, bool, error) {
	chain, ok, err := p.txQueue.NextAvail()
	if err != nil || !ok {
		return nil, ok, err
	}

	cur, err := p.mem.BuildCursor(chain.Refs)
	if err != nil {
		return nil, false, err
	}

	req, err := netio.NewRequest(cur, p.hdrLen(), p.name)
	if err != nil {
		return nil, false, err
	}

	return &TXRequest{req: req, queue: p.txQueue, head: chain.Head}, true, nil
}

// DropRequests discards every pending tx request without delivering it
// anywhere, acknowledging each one — used for monitor ports, which are not
// allowed to transmit, matching Virtio_net_request::drop_requests.
func (p *VirtioPort) DropRequests() error {
	for {
		chain, ok, err := p.txQueue.NextAvail()
		if err != nil {
			return err
		}

		if !ok {
			return nil
		}

		if err := p.txQueue.Finish(uint32(chain.Head), 0); err != nil {
			return err
		}
	}
}

func (p *VirtioPort) RxNotifyDisableAndRemember() {
	p.rxQueue.DisableNotify()
}

func (p *VirtioPort) RxNotifyEmitAndEnable() {
	if p.rxQueue.EnableNotify() {
		p.rxQueue.Kick(p.irqSink)
	}
}

// Deliver copies req into this port's rx queue, applying the VLAN mangle
// appropriate between src's role and this port's role, mirroring
// L4virtio_port::handle_request.
func (p *VirtioPort) Deliver(src Port, treq *TXRequest) Result {
	mg := vlan.ForRoles(src.Role(), p.Role())

	hdr := treq.Header()
	csumStart := hdr.CsumStart
	mg.RewriteHeader(hdr.NeedsCsum, &csumStart)
	hdr.CsumStart = csumStart

	srcCur := treq.req.Transfer()

	var (
		total      int
		numMerged  uint16
		consumed   []virtqueue.UsedElem
		haveHead   bool
		head       uint16
		dstCur     *guestmem.Cursor
		headerDone bool
		headerBuf  []byte
	)

	mrg := p.dev.GuestFeatures()&virtionet.FeatureMrgRxBuf != 0

	for {
		if srcCur.Done() {
			break
		}

		if !haveHead {
			has, err := p.rxQueue.HasAvail()
			if err != nil {
				p.log.Warnf(switchlog.Request, "%s: destination queue error: %v", p.name, err)

				return p.abortDestinationError(consumed, haveHead, head)
			}

			if !has {
				p.log.Tracef(switchlog.Request, "%s: destination queue depleted, dropping", p.name)

				return p.abortDropped(consumed, haveHead, head)
			}

			chain, ok, err := p.rxQueue.NextAvail()
			if err != nil || !ok {
				return p.abortDestinationError(consumed, haveHead, head)
			}

			dstCur, err = p.mem.BuildCursor(chain.Refs)
			if err != nil {
				p.DeviceError()

				return Exception
			}

			head = chain.Head
			haveHead = true

			if !headerDone {
				hdrSpace := dstCur.Peek(virtionet.MrgHdrLen)
				if len(hdrSpace) < virtionet.MrgHdrLen {
					p.log.Warnf(switchlog.Request, "%s: destination buffer too small for header", p.name)
					p.rxQueue.RewindAvail(1)

					return Dropped
				}

				hdr.Encode(hdrSpace)
				dstCur.Skip(uint32(virtionet.MrgHdrLen))
				total = virtionet.MrgHdrLen
				headerDone = true
				headerBuf = hdrSpace
			}

			numMerged++
		}

		hasRoom := dstCur.Remaining() > 0
		if !hasRoom {
			if mrg {
				consumed = append(consumed, virtqueue.UsedElem{ID: uint32(head), Len: uint32(total)})
				total = 0
				haveHead = false

				continue
			}

			p.log.Tracef(switchlog.Request, "%s: destination buffer too small, dropping", p.name)
			p.rxQueue.RewindAvail(1)

			return Dropped
		}

		total += int(mg.CopyPacket(dstCur, srcCur))
	}

	if !headerDone {
		return Dropped
	}

	finalHdr := virtionet.Decode(headerBuf)
	finalHdr.NumBuffers = numMerged
	finalHdr.Encode(headerBuf)

	if len(consumed) == 0 {
		if err := p.rxQueue.Finish(uint32(head), uint32(total)); err != nil {
			return Exception
		}
	} else {
		consumed = append(consumed, virtqueue.UsedElem{ID: uint32(head), Len: uint32(total)})
		if err := p.rxQueue.FinishMany(consumed); err != nil {
			return Exception
		}
	}

	p.rxQueue.Kick(p.irqSink)

	return Delivered
}

// abortDropped rewinds every destination chain already popped this delivery
// — the heads recorded in consumed from earlier MRG_RXBUF buffers plus the
// in-progress head, if any — and reports Dropped. Rewinding only the most
// recent head would leave the rest consumed from the avail ring without
// ever being published to the used ring.
func (p *VirtioPort) abortDropped(consumed []virtqueue.UsedElem, haveHead bool, head uint16) Result {
	n := len(consumed)
	if haveHead {
		n++
	}

	if n > 0 {
		p.rxQueue.RewindAvail(n)
	}

	return Dropped
}

func (p *VirtioPort) abortDestinationError(consumed []virtqueue.UsedElem, haveHead bool, head uint16) Result {
	p.DeviceError()

	return Exception
}
