// Package mac implements the 48-bit Ethernet address value type used
// throughout the switch.
package mac

import "fmt"

// Addr is a 48-bit Ethernet address. Unlike wire order, the octets are
// stored least-significant-octet-first (octet 0 in the lowest byte) so that
// the broadcast/multicast test and the unknown test are cheap bit tests
// instead of byte comparisons.
type Addr uint64

// Unknown is the sentinel value for "no address learned yet".
const Unknown Addr = 0

const Length = 6

// New builds an Addr from a 6-byte slice in wire order (as it appears in an
// Ethernet frame).
func New(b []byte) Addr {
	var a Addr
	for i := 0; i < Length; i++ {
		a |= Addr(b[i]) << (8 * uint(i))
	}

	return a
}

// Bytes renders the address back into wire order.
func (a Addr) Bytes() [Length]byte {
	var b [Length]byte
	for i := 0; i < Length; i++ {
		b[i] = byte(a >> (8 * uint(i)))
	}

	return b
}

// IsBroadcast reports whether a is a broadcast or multicast address: both
// classes set the low bit of the first octet.
func (a Addr) IsBroadcast() bool {
	return a&1 == 1
}

// IsUnknown reports whether a is the Unknown sentinel.
func (a Addr) IsUnknown() bool {
	return a == Unknown
}

func (a Addr) String() string {
	b := a.Bytes()

	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5])
}
