package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/hyperjump/miwake/internal/imaging"
)

func testTensor(seed float32) *imaging.Tensor {
	data := make([]float32, 3*imaging.InputSize*imaging.InputSize)
	for i := range data {
		data[i] = seed + float32(i%7)*0.001
	}
	return &imaging.Tensor{Data: data}
}

func TestMockEmbedder_deterministic(t *testing.T) {
	e := NewMockEmbedder(512)
	defer e.Close()
	ctx := context.Background()

	a, err := e.Embed(ctx, testTensor(0.5))
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Embed(ctx, testTensor(0.5))
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 512 {
		t.Fatalf("dimension = %d, want 512", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embeddings differ at %d", i)
		}
	}
}

func TestMockEmbedder_differentInputsDiffer(t *testing.T) {
	e := NewMockEmbedder(64)
	defer e.Close()
	ctx := context.Background()

	a, _ := e.Embed(ctx, testTensor(0.1))
	b, _ := e.Embed(ctx, testTensor(0.9))
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different tensors produced identical embeddings")
	}
}

func TestMockEmbedder_normalized(t *testing.T) {
	e := NewMockEmbedder(128)
	defer e.Close()

	vec, err := e.Embed(context.Background(), testTensor(0.3))
	if err != nil {
		t.Fatal(err)
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("norm^2 = %v, want 1", sum)
	}
}

func TestMockEmbedder_batchMatchesSingle(t *testing.T) {
	e := NewMockEmbedder(64)
	defer e.Close()
	ctx := context.Background()

	tensors := []*imaging.Tensor{testTensor(0.1), testTensor(0.2), testTensor(0.3)}
	batch, err := e.EmbedBatch(ctx, tensors)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 3 {
		t.Fatalf("batch size = %d", len(batch))
	}
	for i, tensor := range tensors {
		single, err := e.Embed(ctx, tensor)
		if err != nil {
			t.Fatal(err)
		}
		for j := range single {
			if diff := math.Abs(float64(single[j] - batch[i][j])); diff > 1e-6 {
				t.Fatalf("batch and single differ for tensor %d at %d: %v", i, j, diff)
			}
		}
	}
}

func TestMockEmbedder_canceledContext(t *testing.T) {
	e := NewMockEmbedder(16)
	defer e.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Embed(ctx, testTensor(0.4)); err == nil {
		t.Error("expected error for canceled context")
	}
}
