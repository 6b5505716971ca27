// Package catalog persists item metadata for one snapshot.
package catalog

import (
	"context"
	"errors"

	"github.com/hyperjump/miwake/internal/models"
)

// ErrNotFound is returned when no item exists for a requested id.
var ErrNotFound = errors.New("item not found")

// Store defines catalog item persistence. A store belongs to exactly one
// snapshot: the builder writes items into a fresh store, stamps it with the
// snapshot version, and query-time code only ever reads.
type Store interface {
	// Write path (builder only)
	Insert(ctx context.Context, item *models.CatalogItem) error
	BatchInsert(ctx context.Context, items []*models.CatalogItem) error
	SetVersion(ctx context.Context, version string) error

	// Read path
	Get(ctx context.Context, id int64) (*models.CatalogItem, error)
	GetBatch(ctx context.Context, ids []int64) (map[int64]*models.CatalogItem, error)
	List(ctx context.Context, offset, limit int) ([]*models.CatalogItem, error)
	Count(ctx context.Context) (int64, error)
	Categories(ctx context.Context) (map[string]int64, error)
	Version(ctx context.Context) (string, error)

	Close() error
}
