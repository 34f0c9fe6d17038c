package guestmem_test

import (
	"errors"
	"testing"

	"github.com/jwolter-go/vnetswitch/guestmem"
)

func TestMapTranslateWithinRegion(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 16)
	m := guestmem.NewMap(guestmem.Region{Base: 0x1000, Buf: buf})

	got, err := m.Translate(0x1004, 4)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}

	if len(got) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(got))
	}
}

func TestMapTranslateOutOfBounds(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 16)
	m := guestmem.NewMap(guestmem.Region{Base: 0x1000, Buf: buf})

	_, err := m.Translate(0x1010, 1)

	var bad *guestmem.BadDescriptor
	if !errors.As(err, &bad) {
		t.Fatalf("expected BadDescriptor, got %v", err)
	}
}

func TestMapTranslateSpanningRegionBoundary(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 8)
	m := guestmem.NewMap(guestmem.Region{Base: 0x1000, Buf: buf})

	// A range that starts inside the region but extends past its end must
	// fail rather than silently reading adjacent memory.
	_, err := m.Translate(0x1004, 8)
	if err == nil {
		t.Fatal("expected error for range extending past region end")
	}
}

func TestBuildCursorResolvesChain(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 32)
	copy(buf[0:4], []byte{1, 2, 3, 4})
	copy(buf[16:20], []byte{5, 6, 7, 8})

	m := guestmem.NewMap(guestmem.Region{Base: 0, Buf: buf})

	c, err := m.BuildCursor([]guestmem.DescRef{{Addr: 0, Len: 4}, {Addr: 16, Len: 4}})
	if err != nil {
		t.Fatalf("BuildCursor: %v", err)
	}

	if c.Remaining() != 8 {
		t.Fatalf("expected 8 bytes across chain, got %d", c.Remaining())
	}
}

func TestBuildCursorFailsOnBadDescriptor(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 8)
	m := guestmem.NewMap(guestmem.Region{Base: 0, Buf: buf})

	_, err := m.BuildCursor([]guestmem.DescRef{{Addr: 0, Len: 4}, {Addr: 100, Len: 4}})
	if err == nil {
		t.Fatal("expected error for unresolvable descriptor")
	}
}

func TestBoundedMapRejectsRegionsPastCapacity(t *testing.T) {
	t.Parallel()

	m := guestmem.NewBoundedMap(2)

	if err := m.Register(guestmem.Region{Base: 0, Buf: make([]byte, 8)}); err != nil {
		t.Fatalf("Register 1: %v", err)
	}

	if err := m.Register(guestmem.Region{Base: 0x1000, Buf: make([]byte, 8)}); err != nil {
		t.Fatalf("Register 2: %v", err)
	}

	if err := m.Register(guestmem.Region{Base: 0x2000, Buf: make([]byte, 8)}); err == nil {
		t.Fatal("expected the third region to be rejected past capacity 2")
	}

	if _, err := m.Translate(0x4, 4); err != nil {
		t.Fatalf("expected the first registered region to still be usable: %v", err)
	}
}
