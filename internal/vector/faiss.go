//go:build faiss && cgo
// +build faiss,cgo

// Package vector provides a FAISS-backed flat index for production scale.
package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"unsafe"

	"github.com/hyperjump/miwake/pkg/utils"
)

// FAISSIndex wraps a FAISS IndexFlatIP (inner product over normalized
// vectors, so scores are cosine similarity). Flat means exhaustive scan:
// results match FlatIndex exactly, only the scan runs in native code.
// FAISS labels rows sequentially in add order, so ids[label] recovers the
// catalog item ID for a hit.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	ids        []int64
	byID       map[int64]int
	version    string
	mu         sync.RWMutex
}

// NewFAISSIndex creates a FAISS flat index with the given dimension using inner product.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}

	var flat *C.FaissIndexFlatIP
	ret := C.faiss_IndexFlatIP_new_with(&flat, C.idx_t(dimensions))
	if ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}

	return &FAISSIndex{
		index:      (*C.FaissIndex)(unsafe.Pointer(flat)),
		dimensions: dimensions,
		ids:        make([]int64, 0),
		byID:       make(map[int64]int),
	}, nil
}

// faissLastError returns the last FAISS error message.
func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}

// Build replaces the index contents with the given vectors. Vectors are
// normalized into fresh copies before they cross into native memory. IDs
// must be unique; a duplicate fails the whole build.
func (f *FAISSIndex) Build(ctx context.Context, ids []int64, vectors [][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	byID := make(map[int64]int, len(ids))
	flatVectors := make([]float32, len(vectors)*f.dimensions)
	for i, vec := range vectors {
		if len(vec) != f.dimensions {
			return &DimensionError{Got: len(vec), Want: f.dimensions}
		}
		if _, dup := byID[ids[i]]; dup {
			return fmt.Errorf("duplicate id %d at position %d", ids[i], i)
		}
		byID[ids[i]] = i
		copy(flatVectors[i*f.dimensions:(i+1)*f.dimensions], utils.NormalizeL2Copy(vec))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if ret := C.faiss_Index_reset(f.index); ret != 0 {
		return fmt.Errorf("failed to reset FAISS index: %s", faissLastError())
	}
	if len(ids) > 0 {
		ret := C.faiss_Index_add(
			f.index,
			C.idx_t(len(ids)),
			(*C.float)(unsafe.Pointer(&flatVectors[0])),
		)
		if ret != 0 {
			return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
		}
	}
	f.ids = append([]int64(nil), ids...)
	f.byID = byID
	return nil
}

// Vector reconstructs the stored (normalized) vector for an id. The second
// return is false when the id is not in the index.
func (f *FAISSIndex) Vector(id int64) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	pos, ok := f.byID[id]
	if !ok {
		return nil, false
	}
	buf := make([]float32, f.dimensions)
	ret := C.faiss_Index_reconstruct(f.index, C.idx_t(pos), (*C.float)(unsafe.Pointer(&buf[0])))
	if ret != 0 {
		return nil, false
	}
	return buf, true
}

// Search returns the top-k stored vectors by cosine similarity. Ties break
// by ascending ID, matching FlatIndex ordering exactly.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
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
	if k > len(f.ids) {
		k = len(f.ids)
	}

	q := utils.NormalizeL2Copy(query)
	distances := make([]float32, k)
	labels := make([]int64, k)

	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&q[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	results := make([]*VectorResult, 0, k)
	for i := 0; i < k; i++ {
		label := labels[i]
		if label < 0 || int(label) >= len(f.ids) {
			continue
		}
		results = append(results, &VectorResult{
			ID:    f.ids[label],
			Score: float64(distances[i]),
		})
	}

	// FAISS returns scores descending but leaves equal-score order unspecified.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	return results, nil
}

// faissSidecar carries what the native FAISS file cannot: the snapshot
// version, the label-to-catalog-ID table, and the expected dimension.
type faissSidecar struct {
	FormatVersion uint32
	Version       string
	Dimensions    int
	IDs           []int64
}

// Save persists the native FAISS index to path and the sidecar to path+".meta".
func (f *FAISSIndex) Save(path, version string) error {
	if path == "" {
		return fmt.Errorf("save path is empty")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.faiss_write_index_fname(f.index, cPath); ret != 0 {
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}

	meta, err := os.Create(path + ".meta")
	if err != nil {
		return fmt.Errorf("create sidecar file: %w", err)
	}
	defer meta.Close()
	sidecar := faissSidecar{
		FormatVersion: flatFormatVersion,
		Version:       version,
		Dimensions:    f.dimensions,
		IDs:           f.ids,
	}
	if err := gob.NewEncoder(meta).Encode(sidecar); err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	f.version = version
	return nil
}

// Load reads an index written by Save, replaces the contents, and returns
// the snapshot version from the sidecar.
func (f *FAISSIndex) Load(path string) (string, error) {
	meta, err := os.Open(path + ".meta")
	if err != nil {
		return "", fmt.Errorf("open sidecar file: %w", err)
	}
	defer meta.Close()
	var sidecar faissSidecar
	if err := gob.NewDecoder(meta).Decode(&sidecar); err != nil {
		return "", fmt.Errorf("decode sidecar: %w", err)
	}
	if sidecar.FormatVersion != flatFormatVersion {
		return "", fmt.Errorf("unsupported index format version %d", sidecar.FormatVersion)
	}
	if sidecar.Dimensions != f.dimensions {
		return "", &DimensionError{Got: sidecar.Dimensions, Want: f.dimensions}
	}

	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	var loaded *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &loaded); ret != 0 {
		return "", fmt.Errorf("failed to load FAISS index: %s", faissLastError())
	}
	if n := int(C.faiss_Index_ntotal(loaded)); n != len(sidecar.IDs) {
		C.faiss_Index_free(loaded)
		return "", fmt.Errorf("index has %d vectors but sidecar lists %d ids", n, len(sidecar.IDs))
	}
	byID := make(map[int64]int, len(sidecar.IDs))
	for i, id := range sidecar.IDs {
		if _, dup := byID[id]; dup {
			C.faiss_Index_free(loaded)
			return "", fmt.Errorf("duplicate id %d in sidecar", id)
		}
		byID[id] = i
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
	}
	f.index = loaded
	f.ids = sidecar.IDs
	f.byID = byID
	f.version = sidecar.Version
	return f.version, nil
}

// Size returns the number of vectors in the index.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// Dimensions returns the vector dimension the index was created with.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// Version returns the snapshot version from the last Save or Load.
func (f *FAISSIndex) Version() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.version
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}
