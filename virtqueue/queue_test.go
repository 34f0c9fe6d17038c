package virtqueue_test

import (
	"encoding/binary"
	"testing"

	"github.com/jwolter-go/vnetswitch/guestmem"
	"github.com/jwolter-go/vnetswitch/irq"
	"github.com/jwolter-go/vnetswitch/virtqueue"
)

const qsize = 4

// layout lays out a descriptor table, avail ring and used ring for a
// queue of size qsize back to back in one buffer, returning their
// addresses.
func layout() (mem *guestmem.Map, descAddr, availAddr, usedAddr uint64, buf []byte) {
	descBytes := qsize * 16
	availBytes := 4 + qsize*2 + 2
	usedBytes := 4 + qsize*8 + 2

	buf = make([]byte, descBytes+availBytes+usedBytes)
	descAddr = 0
	availAddr = uint64(descBytes)
	usedAddr = availAddr + uint64(availBytes)

	mem = guestmem.NewMap(guestmem.Region{Base: 0, Buf: buf})

	return mem, descAddr, availAddr, usedAddr, buf
}

func writeDesc(buf []byte, descAddr uint64, idx uint16, d virtqueue.Desc) {
	off := descAddr + uint64(idx)*16
	binary.LittleEndian.PutUint64(buf[off:off+8], d.Addr)
	binary.LittleEndian.PutUint32(buf[off+8:off+12], d.Len)
	binary.LittleEndian.PutUint16(buf[off+12:off+14], d.Flags)
	binary.LittleEndian.PutUint16(buf[off+14:off+16], d.Next)
}

func publishAvail(buf []byte, availAddr uint64, idx uint16, descIdx uint16) {
	ringOff := availAddr + 4 + uint64(idx%qsize)*2
	binary.LittleEndian.PutUint16(buf[ringOff:ringOff+2], descIdx)
	binary.LittleEndian.PutUint16(buf[availAddr+2:availAddr+4], idx+1)
}

func TestNextAvailSingleDescriptor(t *testing.T) {
	t.Parallel()

	mem, descAddr, availAddr, usedAddr, buf := layout()

	payload := make([]byte, 64)
	pBuf := guestmem.Region{Base: 0x10000, Buf: payload}
	mem = guestmem.NewMap(guestmem.Region{Base: 0, Buf: buf}, pBuf)

	writeDesc(buf, descAddr, 0, virtqueue.Desc{Addr: 0x10000, Len: 32})
	publishAvail(buf, availAddr, 0, 0)

	q := virtqueue.New(mem, qsize, descAddr, availAddr, usedAddr)

	chain, ok, err := q.NextAvail()
	if err != nil {
		t.Fatalf("NextAvail: %v", err)
	}

	if !ok {
		t.Fatal("expected an available chain")
	}

	if chain.Head != 0 || len(chain.Refs) != 1 || chain.Refs[0].Len != 32 {
		t.Fatalf("unexpected chain: %+v", chain)
	}

	if has, _ := q.HasAvail(); has {
		t.Fatal("expected no further chains available")
	}
}

func TestNextAvailChainsFollowNextFlag(t *testing.T) {
	t.Parallel()

	mem, descAddr, availAddr, usedAddr, buf := layout()

	payload := make([]byte, 64)
	mem = guestmem.NewMap(guestmem.Region{Base: 0, Buf: buf}, guestmem.Region{Base: 0x10000, Buf: payload})

	writeDesc(buf, descAddr, 0, virtqueue.Desc{Addr: 0x10000, Len: 16, Flags: virtqueue.DescFNext, Next: 1})
	writeDesc(buf, descAddr, 1, virtqueue.Desc{Addr: 0x10010, Len: 16})
	publishAvail(buf, availAddr, 0, 0)

	q := virtqueue.New(mem, qsize, descAddr, availAddr, usedAddr)

	chain, ok, err := q.NextAvail()
	if err != nil {
		t.Fatalf("NextAvail: %v", err)
	}

	if !ok || len(chain.Refs) != 2 {
		t.Fatalf("expected a 2-descriptor chain, got %+v", chain)
	}
}

func TestNextAvailRejectsOverlongChain(t *testing.T) {
	t.Parallel()

	mem, descAddr, availAddr, usedAddr, buf := layout()
	payload := make([]byte, 64)
	mem = guestmem.NewMap(guestmem.Region{Base: 0, Buf: buf}, guestmem.Region{Base: 0x10000, Buf: payload})

	// A cycle: desc 0 -> 1 -> 0 -> ... never terminates.
	writeDesc(buf, descAddr, 0, virtqueue.Desc{Addr: 0x10000, Len: 1, Flags: virtqueue.DescFNext, Next: 1})
	writeDesc(buf, descAddr, 1, virtqueue.Desc{Addr: 0x10001, Len: 1, Flags: virtqueue.DescFNext, Next: 0})
	publishAvail(buf, availAddr, 0, 0)

	q := virtqueue.New(mem, qsize, descAddr, availAddr, usedAddr)

	_, _, err := q.NextAvail()
	if err == nil {
		t.Fatal("expected an error for a cyclic descriptor chain")
	}
}

func TestRewindAvailReplaysChain(t *testing.T) {
	t.Parallel()

	mem, descAddr, availAddr, usedAddr, buf := layout()
	payload := make([]byte, 64)
	mem = guestmem.NewMap(guestmem.Region{Base: 0, Buf: buf}, guestmem.Region{Base: 0x10000, Buf: payload})

	writeDesc(buf, descAddr, 0, virtqueue.Desc{Addr: 0x10000, Len: 8})
	publishAvail(buf, availAddr, 0, 0)

	q := virtqueue.New(mem, qsize, descAddr, availAddr, usedAddr)

	first, ok, err := q.NextAvail()
	if err != nil || !ok {
		t.Fatalf("NextAvail: ok=%v err=%v", ok, err)
	}

	q.RewindAvail(1)

	second, ok, err := q.NextAvail()
	if err != nil || !ok {
		t.Fatalf("NextAvail after rewind: ok=%v err=%v", ok, err)
	}

	if first.Head != second.Head {
		t.Fatalf("expected rewind to replay the same chain, got %d then %d", first.Head, second.Head)
	}
}

func TestFinishPublishesUsedRing(t *testing.T) {
	t.Parallel()

	mem, descAddr, availAddr, usedAddr, buf := layout()

	q := virtqueue.New(mem, qsize, descAddr, availAddr, usedAddr)

	if err := q.Finish(3, 128); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	gotID := binary.LittleEndian.Uint32(buf[usedAddr+4 : usedAddr+8])
	gotLen := binary.LittleEndian.Uint32(buf[usedAddr+8 : usedAddr+12])
	gotIdx := binary.LittleEndian.Uint16(buf[usedAddr+2 : usedAddr+4])

	if gotID != 3 || gotLen != 128 || gotIdx != 1 {
		t.Fatalf("unexpected used ring state: id=%d len=%d idx=%d", gotID, gotLen, gotIdx)
	}
}

func TestNotifyCoalescing(t *testing.T) {
	t.Parallel()

	mem, descAddr, availAddr, usedAddr, _ := layout()
	q := virtqueue.New(mem, qsize, descAddr, availAddr, usedAddr)

	fired := 0
	sink := irq.SinkFunc(func() { fired++ })

	q.DisableNotify()
	q.Kick(sink)
	q.Kick(sink)

	if fired != 0 {
		t.Fatalf("expected kicks suppressed while disabled, fired=%d", fired)
	}

	if pending := q.EnableNotify(); !pending {
		t.Fatal("expected a pending notification after two suppressed kicks")
	}

	if fired != 0 {
		t.Fatal("EnableNotify itself must not fire the sink; caller decides")
	}
}
