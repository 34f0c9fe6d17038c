package factory_test

import (
	"io"
	"log"
	"testing"

	"github.com/jwolter-go/vnetswitch/capref"
	"github.com/jwolter-go/vnetswitch/engine"
	"github.com/jwolter-go/vnetswitch/factory"
	"github.com/jwolter-go/vnetswitch/guestmem"
	"github.com/jwolter-go/vnetswitch/irq"
	"github.com/jwolter-go/vnetswitch/switchlog"
	"github.com/jwolter-go/vnetswitch/virtqueue"
)

const testQSize = 4

// emptyQueue builds a Queue over a freshly laid out, empty ring — enough
// for CreatePort to register a port without any pending tx work.
func emptyQueue(t *testing.T) *virtqueue.Queue {
	t.Helper()

	descBytes := testQSize * 16
	availBytes := 4 + testQSize*2 + 2
	usedBytes := 4 + testQSize*8 + 2

	buf := make([]byte, descBytes+availBytes+usedBytes)
	descAddr := uint64(0)
	availAddr := uint64(descBytes)
	usedAddr := availAddr + uint64(availBytes)

	mem := guestmem.NewMap(guestmem.Region{Base: 0, Buf: buf})

	return virtqueue.New(mem, testQSize, descAddr, availAddr, usedAddr)
}

func testTransport(t *testing.T) factory.Transport {
	t.Helper()

	return factory.Transport{
		Mem:     guestmem.NewMap(guestmem.Region{Base: 0x10000, Buf: make([]byte, 4096)}),
		TXQueue: emptyQueue(t),
		RXQueue: emptyQueue(t),
		IRQSink: irq.Null,
		Peer:    capref.AlwaysAlive,
	}
}

func testLog() *switchlog.Logger {
	return switchlog.New(log.New(io.Discard, "", 0))
}

func TestCreatePortRegistersAccessPort(t *testing.T) {
	t.Parallel()

	sw := engine.New(4, 64, testLog())

	p, id, err := factory.CreatePort(sw, []string{"name=eth", "vlan=access=10"}, testTransport(t), testLog())
	if err != nil {
		t.Fatalf("CreatePort: %v", err)
	}

	if p.Name() != "eth[0]" {
		t.Fatalf("unexpected name %q", p.Name())
	}

	if !p.Role().IsAccess() {
		t.Fatal("expected an access role")
	}

	if id != 0 {
		t.Fatalf("expected port id 0, got %d", id)
	}
}

func TestCreatePortRegistersMonitorPort(t *testing.T) {
	t.Parallel()

	sw := engine.New(4, 64, testLog())

	p, _, err := factory.CreatePort(sw, []string{"type=monitor"}, testTransport(t), testLog())
	if err != nil {
		t.Fatalf("CreatePort: %v", err)
	}

	if !p.Role().IsMonitor() {
		t.Fatal("expected a monitor role")
	}

	if p.Name() != "monitor[0]" {
		t.Fatalf("unexpected monitor name %q", p.Name())
	}
}

func TestCreatePortRejectsDuplicateMonitor(t *testing.T) {
	t.Parallel()

	sw := engine.New(4, 64, testLog())

	if _, _, err := factory.CreatePort(sw, []string{"type=monitor"}, testTransport(t), testLog()); err != nil {
		t.Fatalf("first CreatePort: %v", err)
	}

	if _, _, err := factory.CreatePort(sw, []string{"type=monitor"}, testTransport(t), testLog()); err == nil {
		t.Fatal("expected the second monitor port to be rejected")
	}
}

func TestCreatePortRejectsDuplicateMAC(t *testing.T) {
	t.Parallel()

	sw := engine.New(4, 64, testLog())

	opts := []string{"mac=02:00:00:00:00:01"}

	if _, _, err := factory.CreatePort(sw, opts, testTransport(t), testLog()); err != nil {
		t.Fatalf("first CreatePort: %v", err)
	}

	if _, _, err := factory.CreatePort(sw, opts, testTransport(t), testLog()); err == nil {
		t.Fatal("expected the second port with a duplicate mac to be rejected")
	}
}

func TestCreatePortRejectsWhenSwitchFull(t *testing.T) {
	t.Parallel()

	sw := engine.New(1, 64, testLog())

	if _, _, err := factory.CreatePort(sw, nil, testTransport(t), testLog()); err != nil {
		t.Fatalf("first CreatePort: %v", err)
	}

	if _, _, err := factory.CreatePort(sw, nil, testTransport(t), testLog()); err == nil {
		t.Fatal("expected CreatePort to fail once the switch has no free slot")
	}
}
