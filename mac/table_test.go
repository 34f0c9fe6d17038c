package mac_test

import (
	"testing"

	"github.com/jwolter-go/vnetswitch/mac"
)

func TestTableBoundedSize(t *testing.T) {
	t.Parallel()

	const capacity = 4
	tbl := mac.NewTable(capacity)

	for i := 0; i < 100; i++ {
		tbl.Learn(mac.Addr(i+1), mac.PortID(i%3), 1)
	}

	if tbl.Len() > capacity {
		t.Fatalf("table grew to %d entries, capacity is %d", tbl.Len(), capacity)
	}
}

func TestTableSelfHealingOnMove(t *testing.T) {
	t.Parallel()

	tbl := mac.NewTable(16)

	const m = mac.Addr(0x1122334455)

	tbl.Learn(m, 0, 7)
	tbl.Learn(m, 1, 7)

	got, ok := tbl.Lookup(m, 7)
	if !ok {
		t.Fatal("expected lookup to succeed after learn")
	}

	if got != 1 {
		t.Fatalf("expected port 1 after move, got %d", got)
	}
}

func TestTableFlushCompleteness(t *testing.T) {
	t.Parallel()

	tbl := mac.NewTable(16)

	tbl.Learn(1, 5, 0)
	tbl.Learn(2, 5, 0)
	tbl.Learn(3, 6, 0)

	tbl.Flush(5)

	if _, ok := tbl.Lookup(1, 0); ok {
		t.Fatal("entry for mac 1 survived flush of its port")
	}

	if _, ok := tbl.Lookup(2, 0); ok {
		t.Fatal("entry for mac 2 survived flush of its port")
	}

	if _, ok := tbl.Lookup(3, 0); !ok {
		t.Fatal("unrelated entry for mac 3 was wrongly flushed")
	}
}

func TestTableLookupUnknown(t *testing.T) {
	t.Parallel()

	tbl := mac.NewTable(16)

	if _, ok := tbl.Lookup(42, 0); ok {
		t.Fatal("expected lookup miss on empty table")
	}
}

func TestTableRoundRobinEviction(t *testing.T) {
	t.Parallel()

	const capacity = 2
	tbl := mac.NewTable(capacity)

	tbl.Learn(1, 0, 0)
	tbl.Learn(2, 0, 0)
	// Capacity reached; next insert evicts the oldest (mac 1).
	tbl.Learn(3, 0, 0)

	if _, ok := tbl.Lookup(1, 0); ok {
		t.Fatal("expected oldest entry to be evicted")
	}

	if _, ok := tbl.Lookup(2, 0); !ok {
		t.Fatal("expected mac 2 to survive eviction")
	}

	if _, ok := tbl.Lookup(3, 0); !ok {
		t.Fatal("expected newly learned mac 3 to be present")
	}
}
