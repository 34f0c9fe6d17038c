package factory

import (
	"fmt"

	"github.com/jwolter-go/vnetswitch/capref"
	"github.com/jwolter-go/vnetswitch/engine"
	"github.com/jwolter-go/vnetswitch/guestmem"
	"github.com/jwolter-go/vnetswitch/irq"
	"github.com/jwolter-go/vnetswitch/mac"
	"github.com/jwolter-go/vnetswitch/port"
	"github.com/jwolter-go/vnetswitch/switchlog"
	"github.com/jwolter-go/vnetswitch/virtionet"
	"github.com/jwolter-go/vnetswitch/virtqueue"
)

// Transport bundles the pieces only a concrete transport (a real vhost-user
// socket, an AF_UNIX peer, ...) can supply for a new guest-facing port. The
// factory itself never constructs these: it only decides naming, addressing
// and VLAN role from the option strings, matching how Switch_port in main.cc
// plugs a transport-specific Kick_irq into the transport-agnostic
// L4virtio_port base it builds from Options.
type Transport struct {
	Mem     *guestmem.Map
	TXQueue *virtqueue.Queue
	RXQueue *virtqueue.Queue
	IRQSink irq.Sink
	Peer    capref.Peer
}

// CreatePort parses opts, resolves the port's name/MAC/VLAN role and builds
// a guest-facing port registered on sw, mirroring
// Switch_factory::op_create's non-IPC decision logic.
func CreatePort(sw *engine.Switch, opts []string, t Transport, log *switchlog.Logger) (port.Port, mac.PortID, error) {
	spec, err := ParseOptions(opts)
	if err != nil {
		return nil, 0, err
	}

	portNum, ok := sw.NextPortSlot(spec.Monitor)
	if !ok {
		return nil, 0, fmt.Errorf("factory: no port available")
	}

	name := PortName(spec, portNum)
	addr := ResolveMAC(spec, portNum)

	if spec.Monitor && spec.hasVLANOpt {
		log.Warnf(switchlog.Port, "%s: vlan=... ignored on monitor ports", name)
	}

	dev := virtionet.New(virtionet.ConfigSpace{MAC: addr}, 0)

	p := port.NewVirtioPort(port.VirtioPortConfig{
		Name:    name,
		Device:  dev,
		Role:    spec.Role(),
		Mem:     t.Mem,
		TXQueue: t.TXQueue,
		RXQueue: t.RXQueue,
		IRQSink: t.IRQSink,
		Peer:    t.Peer,
		Log:     log,
	})

	dev.SetConfigChangeCallback(func() { p.IRQSink().Trigger() })

	var added bool

	var id mac.PortID

	if spec.Monitor {
		added = sw.AddMonitorPort(p)
	} else {
		id, added = sw.AddPort(p)
	}

	if !added {
		return nil, 0, fmt.Errorf("factory: switch rejected port %q", name)
	}

	return p, id, nil
}
