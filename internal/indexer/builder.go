// Package indexer builds catalog snapshots: scan an image source, embed every
// item, and publish the result as one immutable snapshot.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/miwake/internal/catalog"
	"github.com/hyperjump/miwake/internal/config"
	"github.com/hyperjump/miwake/internal/embedding"
	"github.com/hyperjump/miwake/internal/imaging"
	"github.com/hyperjump/miwake/internal/keyword"
	"github.com/hyperjump/miwake/internal/models"
	"github.com/hyperjump/miwake/internal/snapshot"
	"github.com/hyperjump/miwake/internal/source"
	"github.com/hyperjump/miwake/internal/vector"
	"github.com/hyperjump/miwake/pkg/utils"
)

// ErrRebuildInProgress is returned when a rebuild is requested while another
// one is running.
var ErrRebuildInProgress = errors.New("rebuild already in progress")

// Builder turns an image source into a published snapshot. One rebuild runs
// at a time; queries keep serving the previous snapshot until the new one is
// verified and swapped in.
type Builder struct {
	embedder embedding.Embedder
	manager  *snapshot.Manager
	cfg      *config.Config
	cache    *embedding.Cache
	logger   *zap.Logger

	// buildMu serializes rebuilds; TryLock turns a concurrent request into
	// ErrRebuildInProgress instead of queueing it.
	buildMu sync.Mutex

	jobsMu sync.Mutex
	jobs   map[string]*models.RebuildJob
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBuilder creates a Builder. The embedding cache is keyed by image content
// hash, so an unchanged image never runs through the model twice across
// rebuilds within one process.
func NewBuilder(embedder embedding.Embedder, manager *snapshot.Manager, cfg *config.Config, opts ...BuilderOption) (*Builder, error) {
	b := &Builder{
		embedder: embedder,
		manager:  manager,
		cfg:      cfg,
		logger:   zap.NewNop(),
		jobs:     make(map[string]*models.RebuildJob),
	}
	for _, opt := range opts {
		opt(b)
	}
	if cfg.Embedding.CacheSize > 0 {
		cache, err := embedding.NewCache(cfg.Embedding.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding cache: %w", err)
		}
		b.cache = cache
	}
	return b, nil
}

// Rebuild runs a full build synchronously and publishes the result. Returns
// ErrRebuildInProgress when another rebuild holds the build lock.
func (b *Builder) Rebuild(ctx context.Context, src source.Source) (*snapshot.Manifest, error) {
	if !b.buildMu.TryLock() {
		return nil, ErrRebuildInProgress
	}
	defer b.buildMu.Unlock()
	return b.rebuild(ctx, src)
}

// StartRebuild launches a rebuild in the background and returns its job.
// ctx should be the application context, not a request context: the build
// outlives the request that triggered it and stops on shutdown.
func (b *Builder) StartRebuild(ctx context.Context, src source.Source) (*models.RebuildJob, error) {
	if !b.buildMu.TryLock() {
		return nil, ErrRebuildInProgress
	}

	job := &models.RebuildJob{
		ID:        uuid.NewString(),
		Status:    models.JobRunning,
		Source:    src.Locator(),
		StartedAt: time.Now().UTC(),
	}
	b.jobsMu.Lock()
	b.jobs[job.ID] = job
	b.jobsMu.Unlock()

	go func() {
		defer b.buildMu.Unlock()
		manifest, err := b.rebuild(ctx, src)

		finished := time.Now().UTC()
		b.jobsMu.Lock()
		defer b.jobsMu.Unlock()
		job.FinishedAt = &finished
		if err != nil {
			job.Status = models.JobFailed
			job.Error = err.Error()
			b.logger.Error("rebuild failed",
				zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		job.Status = models.JobCompleted
		job.Version = manifest.Version
		job.ItemCount = manifest.ItemCount
	}()

	jobCopy := *job
	return &jobCopy, nil
}

// Job returns a copy of the job with the given id.
func (b *Builder) Job(id string) (*models.RebuildJob, bool) {
	b.jobsMu.Lock()
	defer b.jobsMu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return nil, false
	}
	jobCopy := *job
	return &jobCopy, true
}

// Running reports whether a rebuild is currently in progress.
func (b *Builder) Running() bool {
	if b.buildMu.TryLock() {
		b.buildMu.Unlock()
		return false
	}
	return true
}

// decodedFile carries one source file through the build pipeline.
type decodedFile struct {
	file   source.File
	info   imaging.Info
	size   int64
	hash   string
	tensor *imaging.Tensor
	vec    []float32
}

// rebuild is the build pipeline. Callers hold buildMu.
func (b *Builder) rebuild(ctx context.Context, src source.Source) (manifest *snapshot.Manifest, err error) {
	version := snapshot.NewVersion()
	dir := b.manager.Dir(version)
	start := time.Now()
	b.logger.Info("rebuild started",
		zap.String("version", version),
		zap.String("source", src.Locator()))

	files, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list source: %w", err)
	}
	// Stable input order regardless of source: identical sources yield
	// identical ids, vectors, and rankings.
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	var (
		store *catalog.SQLiteStore
		kw    *keyword.BleveIndex
		idx   vector.VectorIndex
	)
	published := false
	defer func() {
		if published {
			return
		}
		if idx != nil {
			_ = idx.Close()
		}
		if kw != nil {
			_ = kw.Close()
		}
		if store != nil {
			_ = store.Close()
		}
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			b.logger.Warn("failed to clean up staging snapshot",
				zap.String("version", version), zap.Error(rmErr))
		}
	}()

	store, err = catalog.NewSQLiteStore(filepath.Join(dir, snapshot.CatalogFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog: %w", err)
	}
	kw, err = keyword.NewBleveIndex(filepath.Join(dir, snapshot.KeywordDir))
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}

	batchSize := b.cfg.Builder.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	workers := b.cfg.Builder.Workers
	if workers <= 0 {
		workers = 4
	}

	var (
		ids     []int64
		vecs    [][]float32
		skipped int
	)
	for batchStart := 0; batchStart < len(files); batchStart += batchSize {
		batchEnd := min(batchStart+batchSize, len(files))
		batch := files[batchStart:batchEnd]

		decoded, err := b.decodeBatch(ctx, src, batch, workers)
		if err != nil {
			return nil, err
		}

		kept := make([]*decodedFile, 0, len(decoded))
		for _, d := range decoded {
			if d == nil {
				skipped++
				continue
			}
			kept = append(kept, d)
		}
		if err := b.embedPending(ctx, kept); err != nil {
			return nil, err
		}

		items := make([]*models.CatalogItem, len(kept))
		for i, d := range kept {
			items[i] = &models.CatalogItem{
				Name:          catalog.DeriveName(d.file.Path),
				Category:      catalog.DeriveCategory(d.file.Path, b.cfg.Builder.DefaultCategory),
				ImageLocation: d.file.Location,
				FileSize:      d.size,
				Width:         d.info.Width,
				Height:        d.info.Height,
				Format:        d.info.Format,
			}
		}
		if err := store.BatchInsert(ctx, items); err != nil {
			return nil, fmt.Errorf("failed to insert catalog items: %w", err)
		}
		if err := kw.IndexBatch(ctx, items); err != nil {
			return nil, fmt.Errorf("failed to index keywords: %w", err)
		}
		for i, item := range items {
			ids = append(ids, item.ID)
			vecs = append(vecs, kept[i].vec)
		}
	}

	idx, err = vector.NewVectorIndex(b.cfg.Search.IndexType, b.embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	if err := idx.Build(ctx, ids, vecs); err != nil {
		return nil, fmt.Errorf("failed to build vector index: %w", err)
	}
	if err := idx.Save(filepath.Join(dir, snapshot.VectorsFile), version); err != nil {
		return nil, fmt.Errorf("failed to save vector index: %w", err)
	}
	indexType := idx.Type()

	if err := store.SetVersion(ctx, version); err != nil {
		return nil, fmt.Errorf("failed to stamp catalog: %w", err)
	}
	if err := kw.SetVersion(version); err != nil {
		return nil, fmt.Errorf("failed to stamp keyword index: %w", err)
	}

	// Close build handles before checksumming so every byte is on disk.
	if err := idx.Close(); err != nil {
		return nil, fmt.Errorf("failed to close vector index: %w", err)
	}
	idx = nil
	if err := kw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close keyword index: %w", err)
	}
	kw = nil
	if err := store.Close(); err != nil {
		return nil, fmt.Errorf("failed to close catalog: %w", err)
	}
	store = nil

	checksumNames := []string{snapshot.VectorsFile, snapshot.CatalogFile}
	if _, err := os.Stat(filepath.Join(dir, snapshot.VectorsFile+".meta")); err == nil {
		checksumNames = append(checksumNames, snapshot.VectorsFile+".meta")
	}
	sums, err := snapshot.ChecksumFiles(dir, checksumNames...)
	if err != nil {
		return nil, err
	}

	manifest = &snapshot.Manifest{
		Version:    version,
		CreatedAt:  time.Now().UTC(),
		ItemCount:  len(ids),
		Dimensions: b.embedder.Dimensions(),
		IndexType:  indexType,
		Source:     src.Locator(),
		Checksums:  sums,
	}
	if err := snapshot.WriteManifest(dir, manifest); err != nil {
		return nil, err
	}

	if err := b.manager.Publish(ctx, version); err != nil {
		return nil, err
	}
	published = true

	b.logger.Info("rebuild completed",
		zap.String("version", version),
		zap.Int("items", len(ids)),
		zap.Int("skipped", skipped),
		zap.Duration("took", time.Since(start)))
	return manifest, nil
}

// decodeBatch reads and decodes one batch concurrently. Results align with
// batch by position; a nil slot is a skipped file. Corrupt or unreadable
// files never abort the build, they are logged with their identity and
// dropped.
func (b *Builder) decodeBatch(ctx context.Context, src source.Source, batch []source.File, workers int) ([]*decodedFile, error) {
	decoded := make([]*decodedFile, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, file := range batch {
		i, file := i, file
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := src.Open(gctx, file)
			if err != nil {
				b.logger.Warn("skipping unreadable file",
					zap.String("path", file.Path), zap.Error(err))
				return nil
			}
			d := &decodedFile{
				file: file,
				size: int64(len(data)),
				hash: utils.ContentHash(data),
			}
			if b.cache != nil {
				if vec, ok := b.cache.Get(d.hash); ok {
					info, err := imaging.Probe(data)
					if err != nil {
						b.logger.Warn("skipping corrupt image",
							zap.String("path", file.Path), zap.Error(err))
						return nil
					}
					d.info = info
					d.vec = vec
					decoded[i] = d
					return nil
				}
			}
			tensor, info, err := imaging.Prepare(data)
			if err != nil {
				b.logger.Warn("skipping corrupt image",
					zap.String("path", file.Path), zap.Error(err))
				return nil
			}
			d.info = info
			d.tensor = tensor
			decoded[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return decoded, nil
}

// embedPending embeds every file that missed the cache, in one model batch.
// An embedder failure aborts the build: unlike a corrupt input file, it means
// the model itself is broken.
func (b *Builder) embedPending(ctx context.Context, kept []*decodedFile) error {
	var pending []*decodedFile
	var tensors []*imaging.Tensor
	for _, d := range kept {
		if d.vec == nil {
			pending = append(pending, d)
			tensors = append(tensors, d.tensor)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	embeddings, err := b.embedder.EmbedBatch(ctx, tensors)
	if err != nil {
		return fmt.Errorf("failed to embed batch: %w", err)
	}
	if len(embeddings) != len(pending) {
		return fmt.Errorf("embedder returned %d vectors for %d inputs", len(embeddings), len(pending))
	}
	for i, d := range pending {
		d.vec = embeddings[i]
		d.tensor = nil
		if b.cache != nil {
			b.cache.Set(d.hash, embeddings[i])
		}
	}
	return nil
}
