// Package port implements the switch-facing side of a network endpoint: the
// common Port contract every backend satisfies, plus the virtio-backed
// implementation that walks tx/rx virtqueues, grounded on port.h's
// Port_iface and port_l4virtio.h's L4virtio_port.
package port

import (
	"github.com/jwolter-go/vnetswitch/irq"
	"github.com/jwolter-go/vnetswitch/mac"
	"github.com/jwolter-go/vnetswitch/vlan"
)

// Result is the outcome of delivering a frame to one destination port,
// matching Port_iface::Result.
type Result int

const (
	Delivered Result = iota
	Dropped
	Exception
)

// Filter decides whether a frame bound for the monitor port should be
// suppressed, matching filter.h's filter_request. buf is the best-effort
// peek at the start of the packet body (may be shorter than a full Ethernet
// header if the source buffer was small).
type Filter func(buf []byte) bool

// ExampleFilter mirrors filter.cc's demonstration filter: it suppresses
// every frame long enough to carry an EtherType field except ARP.
func ExampleFilter(buf []byte) bool {
	if len(buf) <= 13 {
		return false
	}

	etherType := uint16(buf[12])<<8 | uint16(buf[13])

	return etherType != 0x0806
}

// Port is the common interface the engine drives every port through.
type Port interface {
	Name() string
	MAC() mac.Addr
	Role() vlan.Role

	// IsGone reports whether the port's client has disconnected and it
	// should be reaped by the next CheckPorts pass.
	IsGone() bool

	// TXWorkPending reports whether the port's tx queue has unconsumed
	// descriptors.
	TXWorkPending() bool

	// TakeNextTX pops the next outstanding transmit request, if any.
	TakeNextTX() (*TXRequest, bool, error)

	// Deliver hands req (originated at src) to this port's rx queue.
	Deliver(src Port, req *TXRequest) Result

	// RxNotifyDisableAndRemember suppresses this port's rx notifications,
	// remembering whether one was suppressed until re-enabled.
	RxNotifyDisableAndRemember()
	// RxNotifyEmitAndEnable re-enables rx notifications, firing one now if
	// any were suppressed.
	RxNotifyEmitAndEnable()

	// ReschedulePendingTX signals that this port has more tx work to do
	// after hitting its burst limit.
	ReschedulePendingTX()

	// DeviceError marks the underlying device as needing a reset, e.g.
	// after a destination-side bad descriptor.
	DeviceError()

	// IRQSink returns the sink used to notify the port's guest/uplink.
	IRQSink() irq.Sink
}
