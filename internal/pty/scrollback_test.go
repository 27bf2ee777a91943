package pty

import "testing"

func TestScrollback_DropsOldestChunks(t *testing.T) {
	b := NewScrollback(8)
	b.Write("abcd")
	b.Write("efg")
	if got := b.String(); got != "abcdefg" {
		t.Fatalf("String() = %q", got)
	}

	b.Write("hi")
	if got := b.String(); got != "efghi" {
		t.Errorf("String() = %q, want efghi", got)
	}
	if b.Len() != 5 {
		t.Errorf("Len() = %d, want 5", b.Len())
	}
}

func TestScrollback_OversizedChunkKeepsTail(t *testing.T) {
	b := NewScrollback(4)
	b.Write("xy")
	b.Write("0123456789")
	if got := b.String(); got != "6789" {
		t.Errorf("String() = %q, want 6789", got)
	}
}

func TestScrollback_TailStartsOnRune(t *testing.T) {
	b := NewScrollback(4)
	b.Write("ab€€") // € is 3 bytes; a 4-byte tail starts mid-rune
	if got := b.String(); got != "€" {
		t.Errorf("String() = %q, want a whole rune", got)
	}
}

func TestScrollback_Clear(t *testing.T) {
	b := NewScrollback(0)
	if b.Limit() != DefaultScrollbackBytes {
		t.Errorf("Limit() = %d", b.Limit())
	}
	b.Write("data")
	b.Clear()
	if b.Len() != 0 || b.String() != "" {
		t.Errorf("after Clear: len=%d %q", b.Len(), b.String())
	}
}
