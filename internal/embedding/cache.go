package embedding

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is an LRU cache for embeddings keyed by image content hash. The index
// builder consults it so unchanged images are not re-embedded across rebuilds.
// It is never used for query vectors: queries always embed fresh.
type Cache struct {
	entries *lru.Cache[string, []float32]
}

// NewCache creates a cache holding up to capacity embeddings.
func NewCache(capacity int) (*Cache, error) {
	entries, err := lru.New[string, []float32](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries}, nil
}

// Get returns the cached embedding for key if present.
func (c *Cache) Get(key string) ([]float32, bool) {
	return c.entries.Get(key)
}

// Set stores the embedding for key, evicting the least recently used entry
// if at capacity.
func (c *Cache) Set(key string, value []float32) {
	c.entries.Add(key, value)
}

// Len returns the number of cached embeddings.
func (c *Cache) Len() int {
	return c.entries.Len()
}
