package utils

import "testing"

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte("image bytes"))
	b := ContentHash([]byte("image bytes"))
	if a != b {
		t.Error("same bytes should hash identically")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
	if ContentHash([]byte("other bytes")) == a {
		t.Error("different bytes should hash differently")
	}
}
