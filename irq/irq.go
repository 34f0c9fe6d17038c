// Package irq models the one capability a port needs from the microkernel
// substrate underneath it: the ability to signal its guest. The real
// mechanism (an L4 IRQ capability, triggered via an IPC) is out of scope;
// only the contract a port and the switch engine need is represented here.
package irq

// Sink is anything that can be notified, e.g. a guest's configured IRQ
// capability or a NIC uplink's doorbell.
type Sink interface {
	// Trigger signals the sink once. Implementations must be safe to call
	// from the engine's single dispatch loop with no further synchronization.
	Trigger()
}

// SinkFunc adapts a plain function to a Sink.
type SinkFunc func()

// Trigger calls f.
func (f SinkFunc) Trigger() { f() }

// Null is a Sink that does nothing, useful for uplink ports that have no
// guest-facing interrupt to raise.
var Null Sink = SinkFunc(func() {})
