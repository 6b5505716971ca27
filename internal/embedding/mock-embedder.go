package embedding

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"

	"github.com/hyperjump/miwake/internal/imaging"
)

// MockEmbedder is a deterministic, model-free embedder. It derives a vector from
// a hash of the tensor contents, so the same image always gets the same embedding
// and different images almost always get different ones. Used in tests and as
// the fallback when no ONNX model is available.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder producing deterministic embeddings of the
// given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a normalized embedding derived from the tensor content hash.
func (e *MockEmbedder) Embed(ctx context.Context, tensor *imaging.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := hashTensor(tensor)
	vec := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		vec[i] = float32(math.Sin(float64(h%104729)*float64(i+1))*0.1 + 0.01)
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	if sum > 0 {
		norm := 1.0 / math.Sqrt(sum)
		for i := range vec {
			vec[i] *= float32(norm)
		}
	}
	return vec, nil
}

// EmbedBatch calls Embed for each tensor.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, tensors []*imaging.Tensor) ([][]float32, error) {
	vecs := make([][]float32, len(tensors))
	for i, tensor := range tensors {
		vec, err := e.Embed(ctx, tensor)
		if err != nil {
			return nil, err
		}
		vecs[i] = vec
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

// hashTensor returns a stable FNV-1a hash of the tensor's float bits.
func hashTensor(t *imaging.Tensor) uint64 {
	h := fnv.New64a()
	if t == nil {
		return h.Sum64()
	}
	var buf [4]byte
	for _, v := range t.Data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}
