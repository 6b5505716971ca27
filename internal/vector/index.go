// Package vector provides exact similarity search over catalog embeddings.
package vector

import (
	"context"
	"fmt"
)

// VectorIndex stores one embedding per catalog item and answers exact top-k
// queries by cosine similarity. Build replaces the entire contents, so an
// index is only ever a full product of one build run. Implementations are
// safe for concurrent Search once Build or Load has returned.
type VectorIndex interface {
	Build(ctx context.Context, ids []int64, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	// Vector returns the stored (normalized) vector for an id. The returned
	// slice must not be modified.
	Vector(id int64) ([]float32, bool)
	Save(path, version string) error
	Load(path string) (version string, err error)
	Size() int
	Dimensions() int
	Type() string
	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID    int64
	Score float64 // Cosine similarity in [-1, 1] for normalized vectors.
}

// DimensionError reports a vector whose length disagrees with the index.
type DimensionError struct {
	Got  int
	Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: got %d, want %d", e.Got, e.Want)
}
