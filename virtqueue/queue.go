// Package virtqueue implements the split-ring virtqueue layout used by
// every virtio-net port: descriptor table, available ring and used ring,
// each translated through a guestmem.Map rather than overlaid with
// unsafe.Pointer the way gokvm's virtio.VirtQueue does, because the switch
// needs a queue size chosen at port-creation time instead of a single
// compile-time QueueSize constant.
package virtqueue

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jwolter-go/vnetswitch/guestmem"
	"github.com/jwolter-go/vnetswitch/irq"
)

// Descriptor flags, matching the standard virtio 1.x split-ring layout
// (see gokvm's virtio.VirtQueue.DescTable Flags field).
const (
	DescFNext     uint16 = 1
	DescFWrite    uint16 = 2
	DescFIndirect uint16 = 4
)

const descSize = 16 // addr(8) + len(4) + flags(2) + next(2)

// Desc is one descriptor table entry.
type Desc struct {
	Addr  uint64
	Len   uint32
	Flags uint16
	Next  uint16
}

// UsedElem is one used-ring entry.
type UsedElem struct {
	ID  uint32
	Len uint32
}

var errChainTooLong = errors.New("virtqueue: descriptor chain exceeds queue size")

// Queue is one virtqueue (there are exactly two per virtio-net port: rx and
// tx), addressed by three guest addresses fixed at creation time.
type Queue struct {
	mem  *guestmem.Map
	size uint16

	descAddr  uint64
	availAddr uint64
	usedAddr  uint64

	lastAvail uint16
	usedIdx   uint16

	// notifyDisabled/notifyPending implement the host-side notification
	// coalescing latch: while a TX burst is draining several ports, their RX
	// kicks are suppressed and replayed once at the end instead of
	// interrupting the guest once per packet.
	notifyDisabled bool
	notifyPending  bool
}

// New builds a Queue of the given size over the three ring addresses.
func New(mem *guestmem.Map, size uint16, descAddr, availAddr, usedAddr uint64) *Queue {
	return &Queue{mem: mem, size: size, descAddr: descAddr, availAddr: availAddr, usedAddr: usedAddr}
}

func (q *Queue) readDesc(idx uint16) (Desc, error) {
	buf, err := q.mem.Translate(q.descAddr+uint64(idx)*descSize, descSize)
	if err != nil {
		return Desc{}, err
	}

	return Desc{
		Addr:  binary.LittleEndian.Uint64(buf[0:8]),
		Len:   binary.LittleEndian.Uint32(buf[8:12]),
		Flags: binary.LittleEndian.Uint16(buf[12:14]),
		Next:  binary.LittleEndian.Uint16(buf[14:16]),
	}, nil
}

// availIdx reads the guest-maintained avail.idx counter (rmb: must be read
// after confirming idx != lastAvail would be stale, so callers re-read it
// fresh each time rather than caching it).
func (q *Queue) availIdx() (uint16, error) {
	buf, err := q.mem.Translate(q.availAddr+2, 2)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(buf), nil
}

func (q *Queue) availRingEntry(i uint16) (uint16, error) {
	off := q.availAddr + 4 + uint64(i%q.size)*2

	buf, err := q.mem.Translate(off, 2)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(buf), nil
}

// HasAvail reports whether the guest has published at least one buffer not
// yet consumed.
func (q *Queue) HasAvail() (bool, error) {
	idx, err := q.availIdx()
	if err != nil {
		return false, err
	}

	return q.lastAvail != idx, nil
}

// Chain is one popped descriptor chain: the head index (needed to fill in
// the used-ring entry on Finish) and the ordered list of buffer refs.
type Chain struct {
	Head uint16
	Refs []guestmem.DescRef
	// Writable marks each ref as device-writable (DescFWrite set), in the
	// same order as Refs, for callers that need to split a chain into a
	// header region and payload region.
	Writable []bool
}

// NextAvail pops the next available descriptor chain, if any, following
// DescFNext links. It guards against cyclic or over-long chains (a
// misbehaving or malicious driver) by bounding chain length at the queue
// size, returning guestmem.BadDescriptor if exceeded.
func (q *Queue) NextAvail() (Chain, bool, error) {
	has, err := q.HasAvail()
	if err != nil {
		return Chain{}, false, err
	}

	if !has {
		return Chain{}, false, nil
	}

	headDescID, err := q.availRingEntry(q.lastAvail)
	if err != nil {
		return Chain{}, false, err
	}

	chain := Chain{Head: headDescID}

	descID := headDescID
	for i := 0; ; i++ {
		if i >= int(q.size) {
			return Chain{}, false, &guestmem.BadDescriptor{Reason: errChainTooLong.Error()}
		}

		d, err := q.readDesc(descID)
		if err != nil {
			return Chain{}, false, err
		}

		chain.Refs = append(chain.Refs, guestmem.DescRef{Addr: d.Addr, Len: d.Len})
		chain.Writable = append(chain.Writable, d.Flags&DescFWrite != 0)

		if d.Flags&DescFNext == 0 {
			break
		}

		descID = d.Next
	}

	q.lastAvail++

	return chain, true, nil
}

// RewindAvail undoes the n most recent NextAvail calls, putting those chains
// back for a later retry. Used when a destination transfer fails partway
// through a multi-buffer delivery: every head already popped this delivery
// (not just the most recent one) must be rewound, or the already-popped
// heads are consumed from the avail ring without ever being published to
// the used ring.
func (q *Queue) RewindAvail(n int) {
	q.lastAvail -= uint16(n)
}

// Finish publishes one used-ring entry and bumps used.idx, matching
// gokvm's Tx/Rx used-ring bookkeeping generalized to a runtime queue size.
// The write barrier ordering (entry written before idx is bumped, so a
// guest spinning on idx never observes a half-written entry) is preserved
// even though Go's memory model does not need an explicit fence on a single
// goroutine; the comment documents the invariant for anyone later adding
// real cross-thread guest access.
func (q *Queue) Finish(id uint32, length uint32) error {
	return q.FinishMany([]UsedElem{{ID: id, Len: length}})
}

// FinishMany publishes several used-ring entries as one batch, ending with a
// single used.idx update — the coalesced-notification equivalent for the
// used ring itself.
func (q *Queue) FinishMany(elems []UsedElem) error {
	for _, e := range elems {
		off := q.usedAddr + 4 + uint64(q.usedIdx%q.size)*8

		buf, err := q.mem.Translate(off, 8)
		if err != nil {
			return err
		}

		binary.LittleEndian.PutUint32(buf[0:4], e.ID)
		binary.LittleEndian.PutUint32(buf[4:8], e.Len)

		q.usedIdx++
	}

	idxBuf, err := q.mem.Translate(q.usedAddr+2, 2)
	if err != nil {
		return err
	}

	binary.LittleEndian.PutUint16(idxBuf, q.usedIdx)

	return nil
}

// DisableNotify begins suppressing Kick calls, queuing them as pending
// instead of invoking the sink immediately.
func (q *Queue) DisableNotify() {
	q.notifyDisabled = true
}

// EnableNotify stops suppressing Kick calls and reports whether at least one
// was suppressed while disabled, so the caller can fire a single coalesced
// notification.
func (q *Queue) EnableNotify() bool {
	q.notifyDisabled = false
	pending := q.notifyPending
	q.notifyPending = false

	return pending
}

// Kick notifies sink immediately, or latches the notification as pending if
// notifications are currently disabled.
func (q *Queue) Kick(sink irq.Sink) {
	if q.notifyDisabled {
		q.notifyPending = true

		return
	}

	sink.Trigger()
}

func (d Desc) String() string {
	return fmt.Sprintf("desc{addr:%#x len:%d flags:%#x next:%d}", d.Addr, d.Len, d.Flags, d.Next)
}
