package mac

import "github.com/jwolter-go/vnetswitch/switchlog"

// PortID is an arena-index handle for a port. The original C++ source keeps
// raw Port_iface pointers in the table and flushes aliases on port removal;
// here ports live in a fixed-size array owned by the engine and the table
// only ever stores the small integer index, which removes the need for any
// unsafe aliasing.
type PortID uint16

// DefaultCapacity is the default bound on the number of (MAC, VLAN) entries
// the table will hold (spec.md §3: "default 1024").
const DefaultCapacity = 1024

type key struct {
	addr Addr
	vlan uint16
}

type entry struct {
	port PortID
	key  key
	used bool
}

// Table is a bounded map (MacAddr, VLAN) -> PortID with round-robin
// eviction. It is not safe for concurrent use; the switch engine that owns
// it runs single-threaded.
type Table struct {
	index    map[key]int // key -> slot in entries
	entries  []entry
	rrCursor int
	log      *switchlog.Logger
}

// NewTable creates a table with the given capacity. A capacity of 0 uses
// DefaultCapacity.
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Table{
		index:   make(map[key]int, capacity),
		entries: make([]entry, capacity),
	}
}

// SetLogger attaches a logger used to report learn/replace events, mirroring
// mac_table.h's Dbg::Port/Dbg::Info trace. A nil logger disables logging.
func (t *Table) SetLogger(l *switchlog.Logger) {
	t.log = l
}

// Lookup finds the destination port for (dst, vlan). The second return
// value is false if the pair is not known.
func (t *Table) Lookup(dst Addr, vlan uint16) (PortID, bool) {
	slot, ok := t.index[key{dst, vlan}]
	if !ok {
		return 0, false
	}

	return t.entries[slot].port, true
}

// Learn records that src is reachable via port on the given vlan. If the
// pair is already known only the port pointer is updated (the client
// moved); otherwise the round-robin slot is overwritten, evicting whatever
// key previously lived there.
func (t *Table) Learn(src Addr, port PortID, vlan uint16) {
	k := key{src, vlan}

	if slot, ok := t.index[k]; ok {
		prev := t.entries[slot].port
		t.entries[slot].port = port

		if t.log != nil && prev != port {
			t.log.Infof(switchlog.Port, "replaced %s -> port %d", src, port)
		}

		return
	}

	if t.log != nil {
		t.log.Infof(switchlog.Port, "learned %s -> port %d", src, port)
	}

	slot := t.rrCursor
	old := t.entries[slot]

	if old.used {
		delete(t.index, old.key)
	}

	t.entries[slot] = entry{port: port, key: k, used: true}
	t.index[k] = slot
	t.rrCursor = (t.rrCursor + 1) % len(t.entries)
}

// Flush removes every entry that points at port. Used when a port is
// reaped: its entries must not outlive the port object.
func (t *Table) Flush(port PortID) {
	for slot := range t.entries {
		e := &t.entries[slot]
		if e.used && e.port == port {
			delete(t.index, e.key)
			*e = entry{}
		}
	}
}

// Len reports the number of live entries; used by tests to assert the
// bounded-size invariant.
func (t *Table) Len() int {
	return len(t.index)
}

// Capacity reports the configured maximum number of entries.
func (t *Table) Capacity() int {
	return len(t.entries)
}
