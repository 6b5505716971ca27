// Package vector provides an in-memory flat index using brute-force search.
package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/miwake/pkg/utils"
)

// Binary layout of a saved flat index: magic (4), format version (4),
// snapshot version length (4) + bytes, dimensions (4), count (4), then per
// row: id (8) + vector (dimensions*4). All integers little-endian.
const (
	flatMagic         = "MIWK"
	flatFormatVersion = uint32(1)
	maxVersionLen     = 256
)

// FlatIndex is a brute-force index over L2-normalized vectors. Every query
// scores every stored vector, so results are exact at any size.
type FlatIndex struct {
	dimensions int
	ids        []int64
	vectors    [][]float32
	byID       map[int64]int
	version    string
	mu         sync.RWMutex
}

// NewFlatIndex creates an empty flat index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{
		dimensions: dimensions,
		ids:        make([]int64, 0),
		vectors:    make([][]float32, 0),
		byID:       make(map[int64]int),
	}, nil
}

// Type returns the index type identifier.
func (f *FlatIndex) Type() string {
	return string(IndexTypeFlat)
}

// Build replaces the index contents with the given vectors. Vectors are
// normalized into fresh copies, so caller slices are never aliased or
// mutated. IDs must be unique; a duplicate fails the whole build.
func (f *FlatIndex) Build(ctx context.Context, ids []int64, vectors [][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	byID := make(map[int64]int, len(ids))
	normalized := make([][]float32, len(vectors))
	for i, vec := range vectors {
		if len(vec) != f.dimensions {
			return &DimensionError{Got: len(vec), Want: f.dimensions}
		}
		if _, dup := byID[ids[i]]; dup {
			return fmt.Errorf("duplicate id %d at position %d", ids[i], i)
		}
		byID[ids[i]] = i
		normalized[i] = utils.NormalizeL2Copy(vec)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append([]int64(nil), ids...)
	f.vectors = normalized
	f.byID = byID
	return nil
}

// Vector returns the stored vector for an id. Callers must not modify the
// returned slice.
func (f *FlatIndex) Vector(id int64) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	pos, ok := f.byID[id]
	if !ok {
		return nil, false
	}
	return f.vectors[pos], true
}

// Search returns the top-k stored vectors by cosine similarity. The query is
// normalized into a fresh copy before scoring, so scores never depend on the
// caller's normalization. Ties break by ascending ID so rankings are stable
// across runs and across a save/load cycle.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) != f.dimensions {
		return nil, &DimensionError{Got: len(query), Want: f.dimensions}
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.ids) == 0 {
		return nil, nil
	}
	q := utils.NormalizeL2Copy(query)
	type scored struct {
		id    int64
		score float64
	}
	scores := make([]scored, len(f.ids))
	for i, vec := range f.vectors {
		scores[i] = scored{id: f.ids[i], score: InnerProduct(q, vec)}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].id < scores[j].id
	})
	if k > len(scores) {
		k = len(scores)
	}
	result := make([]*VectorResult, k)
	for i := 0; i < k; i++ {
		result[i] = &VectorResult{ID: scores[i].id, Score: scores[i].score}
	}
	return result, nil
}

// Save persists the index to path, embedding the snapshot version so loaders
// can verify the file against the manifest that references it.
func (f *FlatIndex) Save(path, version string) error {
	if path == "" {
		return fmt.Errorf("save path is empty")
	}
	if len(version) > maxVersionLen {
		return fmt.Errorf("version %q exceeds %d bytes", version, maxVersionLen)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer out.Close()
	if _, err := out.Write([]byte(flatMagic)); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(out, binary.LittleEndian, flatFormatVersion); err != nil {
		return fmt.Errorf("write format version: %w", err)
	}
	verBytes := []byte(version)
	if err := binary.Write(out, binary.LittleEndian, uint32(len(verBytes))); err != nil {
		return fmt.Errorf("write version len: %w", err)
	}
	if _, err := out.Write(verBytes); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	if err := binary.Write(out, binary.LittleEndian, uint32(f.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(out, binary.LittleEndian, uint32(len(f.ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, id := range f.ids {
		if err := binary.Write(out, binary.LittleEndian, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := out.Write(float32SliceToBytes(f.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync index file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	f.version = version
	return nil
}

// Load reads an index written by Save, replaces the in-memory contents, and
// returns the snapshot version embedded in the file. Stored vectors are
// trusted as-is with no re-normalization, so a loaded index returns the same
// float bits and the same rankings as the index that was saved.
func (f *FlatIndex) Load(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open index file: %w", err)
	}
	defer in.Close()

	magic := make([]byte, len(flatMagic))
	if _, err := io.ReadFull(in, magic); err != nil {
		return "", fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != flatMagic {
		return "", fmt.Errorf("bad magic %q: not a vector index file", magic)
	}
	var format uint32
	if err := binary.Read(in, binary.LittleEndian, &format); err != nil {
		return "", fmt.Errorf("read format version: %w", err)
	}
	if format != flatFormatVersion {
		return "", fmt.Errorf("unsupported index format version %d", format)
	}
	var verLen uint32
	if err := binary.Read(in, binary.LittleEndian, &verLen); err != nil {
		return "", fmt.Errorf("read version len: %w", err)
	}
	if verLen > maxVersionLen {
		return "", fmt.Errorf("version length %d exceeds %d bytes", verLen, maxVersionLen)
	}
	verBytes := make([]byte, verLen)
	if _, err := io.ReadFull(in, verBytes); err != nil {
		return "", fmt.Errorf("read version: %w", err)
	}
	var dim, n uint32
	if err := binary.Read(in, binary.LittleEndian, &dim); err != nil {
		return "", fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != f.dimensions {
		return "", &DimensionError{Got: int(dim), Want: f.dimensions}
	}
	if err := binary.Read(in, binary.LittleEndian, &n); err != nil {
		return "", fmt.Errorf("read count: %w", err)
	}
	ids := make([]int64, 0, n)
	vectors := make([][]float32, 0, n)
	buf := make([]byte, f.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var id int64
		if err := binary.Read(in, binary.LittleEndian, &id); err != nil {
			return "", fmt.Errorf("read id at row %d: %w", i, err)
		}
		if _, err := io.ReadFull(in, buf); err != nil {
			return "", fmt.Errorf("read vector at row %d: %w", i, err)
		}
		ids = append(ids, id)
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}
	if _, err := in.Read(make([]byte, 1)); err != io.EOF {
		return "", fmt.Errorf("trailing bytes after %d rows", n)
	}

	byID := make(map[int64]int, len(ids))
	for i, id := range ids {
		if _, dup := byID[id]; dup {
			return "", fmt.Errorf("duplicate id %d in index file", id)
		}
		byID[id] = i
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = ids
	f.vectors = vectors
	f.byID = byID
	f.version = string(verBytes)
	return f.version, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// Dimensions returns the vector dimension the index was created with.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Version returns the snapshot version from the last Save or Load.
func (f *FlatIndex) Version() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.version
}

// Close is a no-op for FlatIndex.
func (f *FlatIndex) Close() error {
	return nil
}
