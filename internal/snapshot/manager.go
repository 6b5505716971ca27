package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hyperjump/miwake/internal/catalog"
	"github.com/hyperjump/miwake/internal/keyword"
	"github.com/hyperjump/miwake/internal/models"
	"github.com/hyperjump/miwake/internal/vector"
)

// CurrentFile names the active snapshot version inside the snapshots root.
const CurrentFile = "CURRENT"

// ErrNoSnapshot is returned when no snapshot has been published yet.
var ErrNoSnapshot = errors.New("no snapshot available")

// Manager owns the current snapshot and the swap between snapshots. The
// pointer is the only shared mutable state between queries and rebuilds:
// readers acquire it per request, a publish replaces it in one swap, and the
// displaced snapshot closes once its last reader releases.
type Manager struct {
	root      string
	retain    int
	cacheSize int
	logger    *zap.Logger

	current atomic.Pointer[Snapshot]
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRetention sets how many snapshot directories to keep on disk,
// including the current one. Minimum 1.
func WithRetention(n int) Option {
	return func(m *Manager) {
		if n >= 1 {
			m.retain = n
		}
	}
}

// WithItemCacheSize enables a read-through LRU over catalog rows for each
// opened snapshot. Zero disables the cache.
func WithItemCacheSize(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.cacheSize = n
		}
	}
}

// NewManager creates a Manager over the given snapshots root directory.
func NewManager(root string, opts ...Option) *Manager {
	m := &Manager{
		root:   root,
		retain: 2,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the path of the directory for a snapshot version.
func (m *Manager) Dir(version string) string {
	return filepath.Join(m.root, version)
}

// LoadCurrent opens the snapshot named by the CURRENT file and makes it the
// serving snapshot. Returns ErrNoSnapshot when nothing has been published.
func (m *Manager) LoadCurrent(ctx context.Context) error {
	version, err := m.readCurrent()
	if err != nil {
		return err
	}
	snap, err := m.open(ctx, version)
	if err != nil {
		return fmt.Errorf("failed to load snapshot %s: %w", version, err)
	}
	m.swap(snap)
	m.logger.Info("snapshot loaded",
		zap.String("version", snap.Version),
		zap.Int("items", snap.Manifest.ItemCount),
		zap.Int("dimensions", snap.Manifest.Dimensions))
	return nil
}

// Publish verifies the named snapshot, points CURRENT at it, and swaps it in
// as the serving snapshot. The displaced snapshot drains and closes.
func (m *Manager) Publish(ctx context.Context, version string) error {
	snap, err := m.open(ctx, version)
	if err != nil {
		return fmt.Errorf("failed to open snapshot %s: %w", version, err)
	}
	if err := m.writeCurrent(version); err != nil {
		snap.Release()
		return err
	}
	m.swap(snap)
	m.logger.Info("snapshot published",
		zap.String("version", snap.Version),
		zap.Int("items", snap.Manifest.ItemCount))
	m.prune()
	return nil
}

// Acquire returns the current snapshot with a reference held. Callers must
// Release it when done, typically via defer.
func (m *Manager) Acquire() (*Snapshot, error) {
	for {
		snap := m.current.Load()
		if snap == nil {
			return nil, ErrNoSnapshot
		}
		if snap.Acquire() {
			return snap, nil
		}
		// Snapshot drained between load and acquire; a publish is mid-swap.
	}
}

// Version returns the serving snapshot version, or empty when none is loaded.
func (m *Manager) Version() string {
	if snap := m.current.Load(); snap != nil {
		return snap.Version
	}
	return ""
}

// Health reports whether a consistent snapshot is serving.
func (m *Manager) Health(ctx context.Context) (*models.Health, error) {
	snap, err := m.Acquire()
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			return &models.Health{Status: "unavailable"}, nil
		}
		return nil, err
	}
	defer snap.Release()

	count, err := snap.Items.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count catalog items: %w", err)
	}
	return &models.Health{
		Status:          "ok",
		SnapshotVersion: snap.Version,
		CatalogSize:     count,
		VectorDimension: snap.Vectors.Dimensions(),
	}, nil
}

// Stats summarizes the serving snapshot's catalog.
func (m *Manager) Stats(ctx context.Context) (*models.CatalogStats, error) {
	snap, err := m.Acquire()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	count, err := snap.Items.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count catalog items: %w", err)
	}
	categories, err := snap.Items.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	diskBytes, err := DiskUsageBytes(snap.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to measure snapshot size: %w", err)
	}
	return &models.CatalogStats{
		TotalItems:      count,
		Categories:      categories,
		SnapshotVersion: snap.Version,
		VectorDimension: snap.Vectors.Dimensions(),
		IndexDiskBytes:  diskBytes,
	}, nil
}

// Close releases the manager's hold on the current snapshot.
func (m *Manager) Close() {
	if old := m.current.Swap(nil); old != nil {
		old.Release()
	}
}

func (m *Manager) swap(snap *Snapshot) {
	if old := m.current.Swap(snap); old != nil {
		old.Release()
	}
}

// open loads and fully verifies one snapshot directory: checksums first,
// then the version stamp each store carries, then the item count across all
// three stores. A snapshot that fails any check is refused, never served.
func (m *Manager) open(ctx context.Context, version string) (snap *Snapshot, err error) {
	dir := m.Dir(version)
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	if manifest.Version != version {
		return nil, fmt.Errorf("manifest version %q does not match directory %q", manifest.Version, version)
	}
	if err := manifest.VerifyChecksums(dir); err != nil {
		return nil, err
	}

	snap = &Snapshot{
		Version:  version,
		Dir:      dir,
		Manifest: manifest,
		logger:   m.logger,
	}
	defer func() {
		if err != nil {
			snap.closeStores()
		}
	}()

	idx, err := vector.NewVectorIndex(manifest.IndexType, manifest.Dimensions)
	if err != nil {
		return nil, err
	}
	snap.Vectors = idx
	vecVersion, err := idx.Load(filepath.Join(dir, VectorsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load vector index: %w", err)
	}
	if vecVersion != version {
		return nil, fmt.Errorf("vector index carries version %q, want %q", vecVersion, version)
	}
	if idx.Size() != manifest.ItemCount {
		return nil, fmt.Errorf("vector index holds %d vectors, manifest says %d", idx.Size(), manifest.ItemCount)
	}

	store, err := catalog.OpenSQLiteStoreReadOnly(filepath.Join(dir, CatalogFile))
	if err != nil {
		return nil, err
	}
	snap.Items = store
	catVersion, err := store.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog version: %w", err)
	}
	if catVersion != version {
		return nil, fmt.Errorf("catalog carries version %q, want %q", catVersion, version)
	}
	count, err := store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count catalog items: %w", err)
	}
	if count != int64(manifest.ItemCount) {
		return nil, fmt.Errorf("catalog holds %d items, manifest says %d", count, manifest.ItemCount)
	}
	if m.cacheSize > 0 {
		cached, err := catalog.NewCachedStore(store, m.cacheSize)
		if err != nil {
			return nil, err
		}
		snap.Items = cached
	}

	kw, err := keyword.OpenBleveIndexReadOnly(filepath.Join(dir, KeywordDir))
	if err != nil {
		return nil, err
	}
	snap.Keywords = kw
	kwVersion, err := kw.Version()
	if err != nil {
		return nil, fmt.Errorf("failed to read keyword index version: %w", err)
	}
	if kwVersion != version {
		return nil, fmt.Errorf("keyword index carries version %q, want %q", kwVersion, version)
	}
	docs, err := kw.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count keyword documents: %w", err)
	}
	if docs != uint64(manifest.ItemCount) {
		return nil, fmt.Errorf("keyword index holds %d documents, manifest says %d", docs, manifest.ItemCount)
	}
	snap.Spell = keyword.NewSpellChecker(kw)

	snap.refs.Store(1)
	return snap, nil
}

func (m *Manager) readCurrent() (string, error) {
	data, err := os.ReadFile(filepath.Join(m.root, CurrentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoSnapshot
		}
		return "", fmt.Errorf("failed to read CURRENT: %w", err)
	}
	version := strings.TrimSpace(string(data))
	if version == "" {
		return "", ErrNoSnapshot
	}
	return version, nil
}

// writeCurrent atomically replaces the CURRENT pointer file, so a crash
// mid-publish leaves either the old version or the new one, never a torn
// file.
func (m *Manager) writeCurrent(version string) error {
	tmp := filepath.Join(m.root, CurrentFile+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to write CURRENT: %w", err)
	}
	if _, err := f.WriteString(version + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write CURRENT: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync CURRENT: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write CURRENT: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(m.root, CurrentFile)); err != nil {
		return fmt.Errorf("failed to replace CURRENT: %w", err)
	}
	return nil
}

// prune removes snapshot directories beyond the retention count, newest
// first by version name (versions sort chronologically). The current version
// is never removed. Directories without a manifest are left alone: they are
// either a build in flight or crash residue the next successful build will
// overwrite.
func (m *Manager) prune() {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		m.logger.Warn("failed to list snapshots for pruning", zap.Error(err))
		return
	}
	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.root, e.Name(), ManifestFile)); err != nil {
			continue
		}
		versions = append(versions, e.Name())
	}
	if len(versions) <= m.retain {
		return
	}
	sort.Sort(sort.Reverse(sort.StringSlice(versions)))

	current := m.Version()
	for _, v := range versions[m.retain:] {
		if v == current {
			continue
		}
		if err := os.RemoveAll(m.Dir(v)); err != nil {
			m.logger.Warn("failed to prune snapshot",
				zap.String("version", v), zap.Error(err))
			continue
		}
		m.logger.Info("pruned snapshot", zap.String("version", v))
	}
}
