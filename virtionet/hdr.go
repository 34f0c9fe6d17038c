package virtionet

import "encoding/binary"

// BaseHdrLen is the on-wire header size without the num_buffers field.
// MrgHdrLen is the size once VIRTIO_NET_F_MRG_RXBUF has been negotiated,
// which is the default for every port this device backs.
const (
	BaseHdrLen = 10
	MrgHdrLen  = 12
)

// Hdr is the per-packet virtio-net header prepended to every frame on both
// the tx and rx virtqueues, matching Virtio_net::Hdr.
type Hdr struct {
	NeedsCsum  bool
	DataValid  bool
	GSOType    uint8
	HdrLen     uint16
	GSOSize    uint16
	CsumStart  uint16
	CsumOffset uint16
	NumBuffers uint16
}

const (
	gsoNone  uint8 = 0
	gsoTCPv4 uint8 = 1
	gsoUDP   uint8 = 3
	gsoTCPv6 uint8 = 4
	gsoECN   uint8 = 0x80
)

// Decode parses a wire-format header from buf, which must be at least
// BaseHdrLen bytes; NumBuffers is read only if buf is at least MrgHdrLen.
func Decode(buf []byte) Hdr {
	flags := buf[0]

	h := Hdr{
		NeedsCsum:  flags&0x1 != 0,
		DataValid:  flags&0x2 != 0,
		GSOType:    buf[1],
		HdrLen:     binary.LittleEndian.Uint16(buf[2:4]),
		GSOSize:    binary.LittleEndian.Uint16(buf[4:6]),
		CsumStart:  binary.LittleEndian.Uint16(buf[6:8]),
		CsumOffset: binary.LittleEndian.Uint16(buf[8:10]),
		NumBuffers: 1,
	}

	if len(buf) >= MrgHdrLen {
		h.NumBuffers = binary.LittleEndian.Uint16(buf[10:12])
	}

	return h
}

// Encode writes h into buf in wire format. buf must be at least MrgHdrLen
// bytes.
func (h Hdr) Encode(buf []byte) {
	var flags uint8
	if h.NeedsCsum {
		flags |= 0x1
	}

	if h.DataValid {
		flags |= 0x2
	}

	buf[0] = flags
	buf[1] = h.GSOType
	binary.LittleEndian.PutUint16(buf[2:4], h.HdrLen)
	binary.LittleEndian.PutUint16(buf[4:6], h.GSOSize)
	binary.LittleEndian.PutUint16(buf[6:8], h.CsumStart)
	binary.LittleEndian.PutUint16(buf[8:10], h.CsumOffset)
	binary.LittleEndian.PutUint16(buf[10:12], h.NumBuffers)
}

// PassthroughHeader builds the header an uplink (non-virtio) port presents
// on behalf of a frame it read from a raw NIC, matching request_ixl.h's
// copy_header: no GSO, no checksum offload, one buffer.
func PassthroughHeader() Hdr {
	return Hdr{GSOType: gsoNone, HdrLen: MrgHdrLen, NumBuffers: 1}
}
