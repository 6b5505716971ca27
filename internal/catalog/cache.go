package catalog

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hyperjump/miwake/internal/models"
)

// CachedStore wraps a Store with an LRU over single-item reads. Search keeps
// resolving the same popular items; the cache keeps those reads off SQLite.
// A store belongs to one snapshot whose items never change, so entries cannot
// go stale and there is no invalidation: a rebuild swaps in a whole new store
// together with a fresh cache.
type CachedStore struct {
	Store
	items *lru.Cache[int64, *models.CatalogItem]
}

// NewCachedStore wraps inner with an LRU holding up to size items.
func NewCachedStore(inner Store, size int) (*CachedStore, error) {
	items, err := lru.New[int64, *models.CatalogItem](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{Store: inner, items: items}, nil
}

// Get returns an item by id, serving from the cache when possible.
func (c *CachedStore) Get(ctx context.Context, id int64) (*models.CatalogItem, error) {
	if item, ok := c.items.Get(id); ok {
		return item, nil
	}
	item, err := c.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.items.Add(id, item)
	return item, nil
}

// GetBatch returns the items that exist for the given ids, fetching only the
// cache misses from the underlying store.
func (c *CachedStore) GetBatch(ctx context.Context, ids []int64) (map[int64]*models.CatalogItem, error) {
	result := make(map[int64]*models.CatalogItem, len(ids))
	var misses []int64
	for _, id := range ids {
		if item, ok := c.items.Get(id); ok {
			result[id] = item
		} else {
			misses = append(misses, id)
		}
	}
	if len(misses) == 0 {
		return result, nil
	}

	fetched, err := c.Store.GetBatch(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, item := range fetched {
		c.items.Add(id, item)
		result[id] = item
	}
	return result, nil
}
