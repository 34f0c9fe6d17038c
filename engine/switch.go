// Package engine implements the switching decision itself: MAC learning,
// VLAN-aware flooding and unicast forwarding, monitor-port mirroring, and
// the per-port TX-burst-fair dispatch loop, grounded on switch.h/switch.cc.
package engine

import (
	"github.com/jwolter-go/vnetswitch/mac"
	"github.com/jwolter-go/vnetswitch/port"
	"github.com/jwolter-go/vnetswitch/switchlog"
	"github.com/jwolter-go/vnetswitch/vlan"
)

// TxBurst bounds the number of consecutive TX requests a single port's
// dispatch loop processes before yielding to other ports, matching
// switch.h's Virtio_switch::Tx_burst.
const TxBurst = 128

// Switch owns every port and routes transmitted frames between them. It is
// not safe for concurrent use: the spec's entire forwarding path is
// single-threaded, driven by one IRQ/dispatch loop at a time.
type Switch struct {
	ports   []port.Port // index == mac.PortID; nil slots are free or reaped
	monitor port.Port
	macs    *mac.Table
	filter  port.Filter
	log     *switchlog.Logger
}

// New creates a switch with room for maxPorts ports and a bounded MAC table.
func New(maxPorts int, macCapacity int, log *switchlog.Logger) *Switch {
	macs := mac.NewTable(macCapacity)
	macs.SetLogger(log)

	return &Switch{
		ports: make([]port.Port, maxPorts),
		macs:  macs,
		log:   log,
	}
}

// SetFilter installs the predicate used to decide whether a frame is
// mirrored to the monitor port, matching filter.h's filter_request. A nil
// filter mirrors everything.
func (s *Switch) SetFilter(f port.Filter) {
	s.filter = f
}

func (s *Switch) lookupFreeSlot() int {
	for idx, p := range s.ports {
		if p == nil {
			return idx
		}
	}

	return -1
}

// NextPortSlot reports which slot the next AddPort/AddMonitorPort call would
// occupy, without reserving it, matching Virtio_switch::port_available —
// callers use it to embed the eventual port number in a default name or MAC
// address before the port object itself exists.
func (s *Switch) NextPortSlot(monitor bool) (int, bool) {
	if monitor {
		if s.monitor != nil {
			return 0, false
		}

		return 0, true
	}

	idx := s.lookupFreeSlot()

	return idx, idx >= 0
}

// AddPort registers p, rejecting it if its MAC address is already in use by
// another port, matching Virtio_switch::add_port.
func (s *Switch) AddPort(p port.Port) (mac.PortID, bool) {
	if !p.MAC().IsUnknown() {
		for _, existing := range s.ports {
			if existing != nil && existing.MAC() == p.MAC() {
				s.log.Warnf(switchlog.Port, "rejecting port %q: MAC address already in use", p.Name())

				return 0, false
			}
		}
	}

	idx := s.lookupFreeSlot()
	if idx < 0 {
		s.log.Warnf(switchlog.Port, "rejecting port %q: switch is full", p.Name())

		return 0, false
	}

	s.ports[idx] = p

	return mac.PortID(idx), true
}

// AddMonitorPort installs p as the switch's sole monitor port, rejecting it
// if one is already configured, matching Virtio_switch::add_monitor_port.
func (s *Switch) AddMonitorPort(p port.Port) bool {
	if s.monitor != nil {
		s.log.Warnf(switchlog.Port, "%q already defined as monitor port, rejecting %q", s.monitor.Name(), p.Name())

		return false
	}

	s.monitor = p

	return true
}

// CheckPorts reaps any port (including the monitor) whose client has gone,
// flushing its MAC table entries, matching Virtio_switch::check_ports.
func (s *Switch) CheckPorts() {
	for idx, p := range s.ports {
		if p == nil || !p.IsGone() {
			continue
		}

		s.log.Infof(switchlog.Port, "client on port %q has gone, removing", p.Name())
		s.ports[idx] = nil
		s.macs.Flush(mac.PortID(idx))
	}

	if s.monitor != nil && s.monitor.IsGone() {
		s.monitor = nil
	}
}

// portID returns the slot index of p, or len(s.ports) (an index no slot
// uses) if p is not a registered port (e.g. the monitor, which is never
// routed to via mac.Table).
func (s *Switch) portID(p port.Port) mac.PortID {
	for idx, existing := range s.ports {
		if existing == p {
			return mac.PortID(idx)
		}
	}

	return mac.PortID(len(s.ports))
}

// route delivers treq (originated at src, occupying slot srcID) to every
// destination it belongs at: a learned unicast target, or a VLAN-matching
// flood, plus a monitor copy unless filtered — matching
// Virtio_switch::handle_tx_request.
func (s *Switch) route(srcID mac.PortID, src port.Port, treq *port.TXRequest) {
	role := src.Role()

	if role.IsTrunk() && !role.MatchVID(vlan.ID(treq.VLANID())) {
		treq.Finish()

		return
	}

	if role.IsAccess() && treq.HasVLAN() {
		treq.Finish()

		return
	}

	effective := role.EffectiveVID()
	if treq.HasVLAN() {
		effective = vlan.ID(treq.VLANID())
	}

	s.macs.Learn(treq.SrcMAC(), srcID, uint16(effective))

	dst := treq.DstMAC()

	if !dst.IsBroadcast() {
		if targetID, ok := s.macs.Lookup(dst, uint16(effective)); ok {
			if target := s.ports[targetID]; target != nil && targetID != srcID {
				target.Deliver(src, treq)
				s.mirror(src, treq)
			}

			treq.Finish()

			return
		}
	}

	for idx, target := range s.ports {
		if target == nil || mac.PortID(idx) == srcID {
			continue
		}

		if target.Role().MatchVID(effective) {
			target.Deliver(src, treq)
		}
	}

	s.mirror(src, treq)
	treq.Finish()
}

// mirror delivers a copy of treq to the monitor port, unless a configured
// filter suppresses it.
func (s *Switch) mirror(src port.Port, treq *port.TXRequest) {
	if s.monitor == nil {
		return
	}

	if s.filter != nil && s.filter(treq.PeekHeader()) {
		return
	}

	s.monitor.Deliver(src, treq)
}

// dispatchBatch pops and routes pending requests from p until handled (the
// count already processed in this DispatchPortTX call) reaches TxBurst,
// returning the updated count, matching Virtio_switch::handle_tx_requests.
func (s *Switch) dispatchBatch(srcID mac.PortID, p port.Port, handled int) (int, error) {
	for handled < TxBurst {
		treq, ok, err := p.TakeNextTX()
		if err != nil {
			return handled, err
		}

		if !ok {
			break
		}

		s.route(srcID, p, treq)
		handled++
	}

	return handled, nil
}

func (s *Switch) allRxNotifyDisableAndRemember() {
	for _, p := range s.ports {
		if p != nil {
			p.RxNotifyDisableAndRemember()
		}
	}
}

func (s *Switch) allRxNotifyEmitAndEnable() {
	for _, p := range s.ports {
		if p != nil {
			p.RxNotifyEmitAndEnable()
		}
	}
}

// DispatchPortTX drains p's pending TX work in bursts of TxBurst, yielding
// fairly to other ports when the limit is hit, matching
// Virtio_switch::handle_l4virtio_port_tx. It reports true once p's entire
// TX queue has been processed, or false if the burst limit was hit and
// p.ReschedulePendingTX was called to resume later.
func (s *Switch) DispatchPortTX(p port.Port) bool {
	srcID := s.portID(p)
	handled := 0

	for {
		s.allRxNotifyDisableAndRemember()

		var err error

		handled, err = s.dispatchBatch(srcID, p, handled)
		if err != nil {
			s.log.Warnf(switchlog.Request, "%s: caught bad descriptor, signalling device error: %v", p.Name(), err)
			p.DeviceError()
			s.allRxNotifyEmitAndEnable()

			return false
		}

		s.allRxNotifyEmitAndEnable()

		if handled >= TxBurst {
			s.log.Debugf(switchlog.Port, "%s: tx burst limit hit, rescheduling remaining work", p.Name())
			p.ReschedulePendingTX()

			return false
		}

		if !p.TXWorkPending() {
			return true
		}
	}
}
