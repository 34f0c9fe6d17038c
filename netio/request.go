// Package netio implements the single-source, multi-destination copy model
// used to deliver one transmitted frame to every port it is routed to:
// Request represents the source side (one popped tx descriptor chain),
// Transfer represents one destination's independent walk over that same
// chain, grounded on request.h's Net_request/Net_transfer split.
package netio

import (
	"github.com/jwolter-go/vnetswitch/guestmem"
	"github.com/jwolter-go/vnetswitch/virtionet"
)

// ethHeaderLen is the number of leading frame bytes kept for parsing: both
// MAC addresses, an 802.1Q tag if present, and the EtherType after the tag.
const ethHeaderLen = 18

// VLANNative is the sentinel vlan id used for packets with no 802.1Q tag.
const VLANNative = 0xFFFF

// Request is the source side of one transmitted frame: a popped tx
// descriptor chain, already past its virtio-net header.
type Request struct {
	hdr     virtionet.Hdr
	peek    []byte // first ethHeaderLen bytes of the packet body, best-effort
	prefix  *guestmem.Cursor
	srcName string
}

// NewRequest builds a Request from a descriptor chain that has already been
// resolved into a cursor. hdrLen is virtionet.BaseHdrLen or MrgHdrLen
// depending on whether VIRTIO_NET_F_MRG_RXBUF was negotiated on this port.
func NewRequest(body *guestmem.Cursor, hdrLen int, srcName string) (*Request, error) {
	head := body.Peek(hdrLen)
	if len(head) < hdrLen {
		return nil, &guestmem.BadDescriptor{Reason: "source buffer too small for virtio-net header"}
	}

	hdr := virtionet.Decode(head)
	body.Skip(uint32(hdrLen))

	return &Request{hdr: hdr, peek: body.Peek(ethHeaderLen), prefix: body, srcName: srcName}, nil
}

// Header returns the virtio-net header read from the source.
func (r *Request) Header() virtionet.Hdr { return r.hdr }

// SourceName returns the originating port's name, for logging.
func (r *Request) SourceName() string { return r.srcName }

// DstMAC returns the destination Ethernet address, or mac.Unknown if the
// buffer was too short to contain one.
func (r *Request) DstMAC() [6]byte {
	var m [6]byte
	if len(r.peek) >= 6 {
		copy(m[:], r.peek[0:6])
	}

	return m
}

// SrcMAC returns the source Ethernet address, or the zero address if the
// buffer was too short to contain one.
func (r *Request) SrcMAC() [6]byte {
	var m [6]byte
	if len(r.peek) >= 12 {
		copy(m[:], r.peek[6:12])
	}

	return m
}

// HasVLAN reports whether the frame carries an 802.1Q tag (TPID 0x8100)
// right after the two MAC addresses.
func (r *Request) HasVLAN() bool {
	return len(r.peek) >= 14 && r.peek[12] == 0x81 && r.peek[13] == 0x00
}

// VLANID returns the tag's 12-bit VLAN id, or VLANNative if HasVLAN is
// false or the tag itself is truncated.
func (r *Request) VLANID() uint16 {
	if !r.HasVLAN() || len(r.peek) < 16 {
		return VLANNative
	}

	return (uint16(r.peek[14])<<8 | uint16(r.peek[15])) & 0xFFF
}

// EtherType returns the frame's EtherType field (the two bytes right after
// the MAC addresses, or after the VLAN tag if present), and whether it could
// be determined at all.
func (r *Request) EtherType() (uint16, bool) {
	off := 12
	if r.HasVLAN() {
		off = 16
	}

	if len(r.peek) < off+2 {
		return 0, false
	}

	return uint16(r.peek[off])<<8 | uint16(r.peek[off+1]), true
}

// NewSyntheticRequest builds a Request directly from a decoded frame body,
// for sources (e.g. an uplink NIC) that have no on-wire virtio-net header to
// parse, matching request_ixl.h's copy_header synthesizing a default
// header instead of reading one.
func NewSyntheticRequest(body *guestmem.Cursor, hdr virtionet.Hdr, srcName string) (*Request, error) {
	return &Request{hdr: hdr, peek: body.Peek(ethHeaderLen), prefix: body, srcName: srcName}, nil
}

// Transfer produces an independent copy cursor over the remaining packet
// body, for one destination to walk without disturbing the Request's own
// state or any other destination's Transfer.
func (r *Request) Transfer() *guestmem.Cursor {
	return r.prefix.Clone()
}
