// Package embedding maps normalized images to fixed-length dense vectors in a
// shared semantic space, via ONNX Runtime or a deterministic mock.
package embedding

import (
	"context"

	"github.com/hyperjump/miwake/internal/imaging"
)

// Embedder produces vector embeddings for images. Returned vectors are
// L2-normalized; batched and single calls on the same tensor yield numerically
// equivalent vectors. Implementations must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, tensor *imaging.Tensor) ([]float32, error)
	EmbedBatch(ctx context.Context, tensors []*imaging.Tensor) ([][]float32, error)
	Dimensions() int
	Close() error
}
