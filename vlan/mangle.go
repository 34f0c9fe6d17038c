package vlan

import "github.com/jwolter-go/vnetswitch/guestmem"

// tagLen is the length in bytes of an 802.1Q tag (0x81 0x00 TCI_HI TCI_LO),
// inserted or removed right after the two MAC addresses (offset 12).
const tagLen = 4

const macPrefixLen = 12 // two 6-byte MAC addresses

type mode int

const (
	passthrough mode = iota
	insertTag
	stripTag
)

// Mangle is a small per-(src,dst) state machine that inserts or strips a
// 4-byte 802.1Q tag while copying a frame, and fixes up the virtio-net
// header's csum_start to account for the length change. A zero-value Mangle
// is Passthrough.
type Mangle struct {
	m            mode
	tci          uint16
	macRemaining uint8
	tagRemaining int8
}

// NewInsert builds a Mangle that inserts a tag with the given TCI after the
// MAC addresses.
func NewInsert(tci uint16) Mangle {
	return Mangle{m: insertTag, tci: tci, macRemaining: macPrefixLen, tagRemaining: tagLen}
}

// NewStrip builds a Mangle that removes an existing 4-byte tag.
func NewStrip() Mangle {
	return Mangle{m: stripTag, macRemaining: macPrefixLen, tagRemaining: -tagLen}
}

// ForRoles decides the mangle to use between a source and destination role,
// matching Port_iface::create_vlan_mangle.
//
//   - dst is trunk, src is not trunk and not native -> insert a tag carrying
//     src's VLAN id (src is an access port).
//   - dst is not trunk, src is trunk -> strip the tag.
//   - everything else (including native<->native, trunk<->trunk,
//     native->trunk, access<->access) -> passthrough.
func ForRoles(src, dst Role) Mangle {
	if dst.IsTrunk() {
		if !src.IsTrunk() && !src.IsNative() {
			return NewInsert(uint16(src.EffectiveVID()))
		}

		return Mangle{}
	}

	if src.IsTrunk() {
		return NewStrip()
	}

	return Mangle{}
}

// CopyPacket copies from src to dst, rewriting the tag as configured, and
// returns the number of bytes written to dst this call (what the caller
// accumulates into the used-ring length) — not the number of source bytes
// consumed, since a tag-insert call writes bytes to dst without consuming
// any from src. The caller must call this repeatedly until src is
// exhausted; partial copies (including zero bytes written on a call that
// only strips) are expected.
func (mg *Mangle) CopyPacket(dst, src *guestmem.Cursor) uint32 {
	switch {
	case mg.m == passthrough:
		return src.CopyTo(dst, ^uint32(0))

	case mg.macRemaining > 0:
		n := src.CopyTo(dst, uint32(mg.macRemaining))
		mg.macRemaining -= uint8(n)

		return n

	case mg.m == insertTag && mg.tagRemaining > 0:
		tag := [tagLen]byte{0x81, 0x00, byte(mg.tci >> 8), byte(mg.tci)}
		start := tagLen - mg.tagRemaining
		n := dst.WriteFrom(tag[start:])
		mg.tagRemaining -= int8(n)

		return uint32(n)

	case mg.m == stripTag && mg.tagRemaining < 0:
		skipped := src.Skip(uint32(-mg.tagRemaining))
		mg.tagRemaining += int8(skipped)

		return 0

	default:
		return src.CopyTo(dst, ^uint32(0))
	}
}

// RewriteHeader fixes up NeedsCsum's csum_start by the length delta the tag
// insert/strip introduced, matching Virtio_vlan_mangle::rewrite_hdr. gso_size,
// hdr_len and csum_offset are untouched: the offsets they reference lie past
// the tag.
func (mg *Mangle) RewriteHeader(needsCsum bool, csumStart *uint16) {
	if mg.m == passthrough || !needsCsum {
		return
	}

	switch mg.m {
	case insertTag:
		*csumStart += tagLen
	case stripTag:
		*csumStart -= tagLen
	}
}
