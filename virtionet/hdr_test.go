package virtionet_test

import (
	"testing"

	"github.com/jwolter-go/vnetswitch/virtionet"
)

func TestHdrEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	h := virtionet.Hdr{
		NeedsCsum:  true,
		GSOType:    1,
		HdrLen:     virtionet.MrgHdrLen,
		CsumStart:  20,
		CsumOffset: 22,
		NumBuffers: 3,
	}

	buf := make([]byte, virtionet.MrgHdrLen)
	h.Encode(buf)

	got := virtionet.Decode(buf)
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestDecodeWithoutMergeableBuffersField(t *testing.T) {
	t.Parallel()

	buf := make([]byte, virtionet.BaseHdrLen)
	buf[0] = 0x1 // needs_csum

	got := virtionet.Decode(buf)
	if !got.NeedsCsum {
		t.Fatal("expected needs_csum flag decoded")
	}

	if got.NumBuffers != 1 {
		t.Fatalf("expected NumBuffers to default to 1 without the field, got %d", got.NumBuffers)
	}
}
