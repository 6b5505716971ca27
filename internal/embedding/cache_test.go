package embedding

import (
	"testing"
)

func newTestCache(t *testing.T, capacity int) *Cache {
	t.Helper()
	c, err := NewCache(capacity)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCache_GetSet(t *testing.T) {
	c := newTestCache(t, 2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestCache_recentUseSurvivesEviction(t *testing.T) {
	c := newTestCache(t, 2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Get("a") // a is now most recent
	c.Set("c", []float32{3})
	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry should survive")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry should be evicted")
	}
}

func TestCache_RejectsZeroCapacity(t *testing.T) {
	if _, err := NewCache(0); err == nil {
		t.Error("expected error for zero capacity")
	}
}
