package guestmem

// DescRef is one descriptor's (address, length) pair, already extracted from
// a virtqueue descriptor table entry by the caller (virtqueue handles chain
// traversal, cycle detection and the next-flag bookkeeping; guestmem only
// resolves the addresses it is handed).
type DescRef struct {
	Addr uint64
	Len  uint32
}

// BuildCursor translates every descriptor in chain against m and returns a
// Cursor over the resulting segments, in chain order. It fails the whole
// chain with BadDescriptor as soon as one descriptor does not resolve,
// matching the original's behavior of throwing out of the middle of a
// descriptor walk.
func (m *Map) BuildCursor(chain []DescRef) (*Cursor, error) {
	segs := make([][]byte, 0, len(chain))

	for _, d := range chain {
		if d.Len == 0 {
			continue
		}

		buf, err := m.Translate(d.Addr, d.Len)
		if err != nil {
			return nil, err
		}

		segs = append(segs, buf)
	}

	return NewCursor(segs), nil
}
