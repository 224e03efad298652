package recycler_test

import (
	"testing"

	"github.com/arborstate/vstate/recycler"
)

func TestGetReusesPutBuffer(t *testing.T) {
	p := recycler.New()
	buf := p.Get(64)
	if cap(buf) < 64 {
		t.Fatalf("expected capacity >= 64, got %d", cap(buf))
	}
	buf = append(buf, make([]byte, 64)...)
	ptr := &buf[0]
	p.Put(buf)

	reused := p.Get(32)
	if len(reused) != 0 {
		t.Fatalf("expected a zero-length slice, got len %d", len(reused))
	}
	reused = reused[:1]
	if &reused[0] != ptr {
		t.Fatal("expected Get to reuse the previously Put backing array")
	}
}

func TestGetAllocatesWhenNoneFit(t *testing.T) {
	p := recycler.New()
	p.Put(make([]byte, 0, 8))
	buf := p.Get(1024)
	if cap(buf) < 1024 {
		t.Fatalf("expected a fresh allocation with capacity >= 1024, got %d", cap(buf))
	}
}

func TestResetDropsFreeList(t *testing.T) {
	p := recycler.New()
	p.Put(make([]byte, 0, 64))
	p.Reset()
	buf := p.Get(64)
	if len(buf) != 0 {
		t.Fatalf("expected an empty slice after reset+get, got len %d", len(buf))
	}
}
