package guestmem

// Cursor walks a chain of already-translated byte segments left to right,
// exactly like request.h's Buffer{pos,left} except that it transparently
// steps to the next descriptor's segment once the current one is exhausted,
// instead of requiring the caller to call done() itself.
type Cursor struct {
	segs [][]byte
	seg  int
	off  int
}

// NewCursor builds a Cursor over segs, in order.
func NewCursor(segs [][]byte) *Cursor {
	c := &Cursor{segs: segs}
	c.normalize()

	return c
}

// normalize skips over any exhausted or zero-length leading segments so Done
// and the current-segment fast path never need to loop.
func (c *Cursor) normalize() {
	for c.seg < len(c.segs) && c.off >= len(c.segs[c.seg]) {
		c.seg++
		c.off = 0
	}
}

// Clone returns an independent Cursor starting at the same position as c.
// Further reads through either cursor do not affect the other, matching how
// a Net_transfer re-walks the same source chain independently for each
// destination.
func (c *Cursor) Clone() *Cursor {
	segs := make([][]byte, len(c.segs))
	copy(segs, c.segs)

	return &Cursor{segs: segs, seg: c.seg, off: c.off}
}

// Peek returns up to n bytes starting at the cursor's current position
// without advancing it, as long as they lie within the current segment
// (mirroring the original's pointer-cast access to Buffer.pos, which only
// ever looks at the active descriptor). It returns fewer than n bytes, or
// none, if the current segment doesn't hold that much contiguously.
func (c *Cursor) Peek(n int) []byte {
	cur := c.current()
	if cur == nil {
		return nil
	}

	if len(cur) < n {
		return cur
	}

	return cur[:n]
}

// Done reports whether every segment has been consumed.
func (c *Cursor) Done() bool {
	c.normalize()

	return c.seg >= len(c.segs)
}

// Remaining reports the total number of unconsumed bytes.
func (c *Cursor) Remaining() uint32 {
	var n uint32

	if !c.Done() {
		n += uint32(len(c.segs[c.seg]) - c.off)
	}

	for i := c.seg + 1; i < len(c.segs); i++ {
		n += uint32(len(c.segs[i]))
	}

	return n
}

// current returns the unconsumed tail of the active segment, or nil if Done.
func (c *Cursor) current() []byte {
	if c.Done() {
		return nil
	}

	return c.segs[c.seg][c.off:]
}

// Skip discards up to n bytes, returning how many were actually available to
// discard.
func (c *Cursor) Skip(n uint32) uint32 {
	var skipped uint32

	for n > 0 {
		cur := c.current()
		if cur == nil {
			break
		}

		take := uint32(len(cur))
		if take > n {
			take = n
		}

		c.off += int(take)
		skipped += take
		n -= take
	}

	return skipped
}

// CopyTo copies up to n bytes from c into dst, advancing both cursors, and
// returns the number of bytes actually copied (less than n if either cursor
// runs out first).
func (c *Cursor) CopyTo(dst *Cursor, n uint32) uint32 {
	var copied uint32

	for n > 0 {
		src := c.current()
		dstBuf := dst.current()

		if src == nil || dstBuf == nil {
			break
		}

		take := uint32(len(src))
		if uint32(len(dstBuf)) < take {
			take = uint32(len(dstBuf))
		}

		if take > n {
			take = n
		}

		copy(dstBuf[:take], src[:take])

		c.off += int(take)
		dst.off += int(take)
		copied += take
		n -= take
	}

	return copied
}

// WriteFrom writes b into the cursor's destination buffer, advancing it, and
// returns the number of bytes actually written (less than len(b) if the
// cursor runs out of room first).
func (c *Cursor) WriteFrom(b []byte) uint32 {
	var written uint32

	for len(b) > 0 {
		dstBuf := c.current()
		if dstBuf == nil {
			break
		}

		take := len(b)
		if take > len(dstBuf) {
			take = len(dstBuf)
		}

		copy(dstBuf[:take], b[:take])

		c.off += take
		written += uint32(take)
		b = b[take:]
	}

	return written
}
