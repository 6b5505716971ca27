// Package keyword provides text search over catalog item names and categories.
package keyword

import (
	"context"

	"github.com/hyperjump/miwake/internal/models"
)

// KeywordIndex defines keyword search operations. Like the vector index, a
// keyword index belongs to one snapshot: the builder fills it, stamps it
// with the snapshot version, and query-time code only reads.
type KeywordIndex interface {
	Index(ctx context.Context, item *models.CatalogItem) error
	IndexBatch(ctx context.Context, items []*models.CatalogItem) error
	Search(ctx context.Context, query string, limit int) ([]*Result, error)
	SetVersion(version string) error
	Version() (string, error)
	// DocCount returns the total number of items in the index.
	DocCount() (uint64, error)
	Close() error
}

// Result is a single keyword search hit.
type Result struct {
	ID    int64
	Score float64
}

// TermDictionary provides access to the term dictionary for spell checking.
// This interface allows dependency injection for testing.
type TermDictionary interface {
	// GetAllTerms returns all unique terms in the index.
	GetAllTerms() ([]string, error)
	// GetTermFrequency returns the document frequency for a term.
	GetTermFrequency(term string) (int, error)
	// ContainsTerm checks if a term exists in the index.
	ContainsTerm(term string) (bool, error)
}
