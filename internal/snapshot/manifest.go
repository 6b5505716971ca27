// Package snapshot manages versioned, immutable index snapshots and the
// atomic swap between them.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// File names inside a snapshot directory.
const (
	ManifestFile = "manifest.json"
	VectorsFile  = "vectors.bin"
	CatalogFile  = "catalog.db"
	KeywordDir   = "keyword.bleve"
)

// Manifest describes one snapshot. The builder writes it last, after every
// store has been filled and stamped, so a directory with a manifest is a
// directory whose build completed.
type Manifest struct {
	Version    string            `json:"version"`
	CreatedAt  time.Time         `json:"created_at"`
	ItemCount  int               `json:"item_count"`
	Dimensions int               `json:"dimensions"`
	IndexType  string            `json:"index_type"`
	Source     string            `json:"source,omitempty"`
	// Checksums maps snapshot-relative file names to sha256 hex digests.
	// The Bleve directory is covered by the item-count cross check instead.
	Checksums map[string]string `json:"checksums"`
}

// NewVersion returns a fresh snapshot version: a UTC timestamp plus a short
// random suffix so two builds in the same second cannot collide.
func NewVersion() string {
	return time.Now().UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
}

// WriteManifest writes the manifest into dir and syncs it to disk.
func WriteManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestFile)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync manifest: %w", err)
	}
	return f.Close()
}

// ReadManifest reads the manifest from dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Version == "" {
		return nil, fmt.Errorf("manifest has no version")
	}
	return &m, nil
}

// ChecksumFiles computes sha256 digests for the named files in dir, keyed by
// name. Names that match no file are an error: a manifest must only ever
// list files that exist.
func ChecksumFiles(dir string, names ...string) (map[string]string, error) {
	sums := make(map[string]string, len(names))
	for _, name := range names {
		sum, err := fileChecksum(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to checksum %s: %w", name, err)
		}
		sums[name] = sum
	}
	return sums, nil
}

// VerifyChecksums recomputes the manifest's checksums against the files in
// dir and reports the first mismatch.
func (m *Manifest) VerifyChecksums(dir string) error {
	for name, want := range m.Checksums {
		// Manifest entries are fixed snapshot-relative names; reject
		// anything that resolves outside the snapshot directory.
		if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
			return fmt.Errorf("manifest lists invalid file name %q", name)
		}
		got, err := fileChecksum(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to checksum %s: %w", name, err)
		}
		if got != want {
			return fmt.Errorf("checksum mismatch for %s: manifest %s, file %s", name, want, got)
		}
	}
	return nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
