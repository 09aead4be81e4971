package spatial

import (
	"testing"
	"time"

	"geobatch/internal/store"
)

func feats(ids ...int64) []store.Feature {
	out := make([]store.Feature, len(ids))
	for i, id := range ids {
		out[i] = store.Feature{ID: id}
	}
	return out
}

func TestQueryCache_HitAndTTLExpiry(t *testing.T) {
	c := newQueryCache(0, 30*time.Millisecond)
	c.Set("k", feats(1, 2))

	got, ok := c.Get("k")
	if !ok || len(got) != 2 {
		t.Fatalf("Get() = %v, %v, want cached slice", got, ok)
	}

	time.Sleep(40 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("Get() after TTL = hit, want miss")
	}
	// Expired entry is evicted on lookup
	if c.Len() != 0 {
		t.Errorf("Len() after expired lookup = %d, want 0", c.Len())
	}
}

func TestQueryCache_Unbounded(t *testing.T) {
	c := newQueryCache(0, time.Minute)
	for i := 0; i < 100; i++ {
		c.Set(string(rune('a'+i%26))+string(rune('0'+i/26)), feats(int64(i)))
	}
	if c.Len() != 100 {
		t.Errorf("Len() = %d, want 100 (capacity 0 means unbounded)", c.Len())
	}
}

func TestQueryCache_LRUBound(t *testing.T) {
	c := newQueryCache(2, time.Minute)
	c.Set("a", feats(1))
	c.Set("b", feats(2))

	// Touch "a" so "b" is the eviction candidate.
	c.Get("a")
	c.Set("c", feats(3))

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry survived eviction")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry was evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("new entry missing")
	}
}

func TestQueryCache_Invalidate(t *testing.T) {
	c := newQueryCache(0, time.Minute)
	c.Set("a", feats(1))
	c.Set("b", feats(2))

	c.Invalidate()
	if c.Len() != 0 {
		t.Errorf("Len() after Invalidate = %d, want 0", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("entry survived Invalidate")
	}
}
