// Package search orchestrates one similarity query end to end: validate the
// input, embed it, search the serving snapshot, and resolve metadata.
package search

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/miwake/internal/config"
	"github.com/hyperjump/miwake/internal/embedding"
	"github.com/hyperjump/miwake/internal/guard"
	"github.com/hyperjump/miwake/internal/imaging"
	"github.com/hyperjump/miwake/internal/models"
	"github.com/hyperjump/miwake/internal/snapshot"
	"github.com/hyperjump/miwake/internal/vector"
)

// Engine answers queries against whatever snapshot is serving when the
// request arrives. It holds no index state of its own; each request acquires
// the current snapshot for its full duration.
type Engine struct {
	guard    *guard.Guard
	embedder embedding.Embedder
	manager  *snapshot.Manager
	cfg      *config.SearchConfig
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(g *guard.Guard, embedder embedding.Embedder, manager *snapshot.Manager, cfg *config.SearchConfig, opts ...Option) *Engine {
	e := &Engine{
		guard:    g,
		embedder: embedder,
		manager:  manager,
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search runs a full similarity query. Parameter and input rejections come
// back as their typed errors (ValidationError, guard sentinels, DecodeError)
// for the boundary layer to map; an empty result list is a valid response,
// not an error.
func (e *Engine) Search(ctx context.Context, input guard.Input, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()

	if query == nil {
		query = &models.SearchQuery{}
	}
	k, threshold, err := query.Resolve(e.cfg.DefaultK, e.cfg.DefaultThresholdValue())
	if err != nil {
		return nil, err
	}

	data, err := e.guard.Validate(ctx, input)
	if err != nil {
		return nil, err
	}

	tensor, _, err := imaging.Prepare(data)
	if err != nil {
		return nil, err
	}

	vec, err := e.embedder.Embed(ctx, tensor)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	snap, err := e.manager.Acquire()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	raw, err := snap.Vectors.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	kept := raw[:0]
	for _, r := range raw {
		if r.Score >= threshold {
			kept = append(kept, r)
		}
	}

	if e.cfg.DedupeIdentical {
		kept = e.dedupeIdentical(snap, kept)
	}

	hits, err := e.resolveHits(ctx, snap, kept)
	if err != nil {
		return nil, err
	}

	return &models.SearchResponse{
		Results:         hits,
		Total:           len(hits),
		K:               k,
		Threshold:       threshold,
		SnapshotVersion: snap.Version,
		QueryTime:       time.Since(start).Milliseconds(),
	}, nil
}

// resolveHits attaches catalog metadata and final ranks. A vector hit whose
// catalog row is missing means the snapshot stores drifted apart; the hit is
// dropped and logged, never an error for the caller.
func (e *Engine) resolveHits(ctx context.Context, snap *snapshot.Snapshot, results []*vector.VectorResult) ([]*models.SearchHit, error) {
	if len(results) == 0 {
		return []*models.SearchHit{}, nil
	}
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	items, err := snap.Items.GetBatch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve items: %w", err)
	}

	hits := make([]*models.SearchHit, 0, len(results))
	for _, r := range results {
		item, ok := items[r.ID]
		if !ok {
			e.logger.Warn("vector hit missing from catalog",
				zap.Int64("id", r.ID),
				zap.String("snapshot", snap.Version))
			continue
		}
		hits = append(hits, &models.SearchHit{
			Item:  item,
			Score: r.Score,
			Rank:  len(hits) + 1,
		})
	}
	return hits, nil
}

// dedupeIdentical collapses hits that are the same image indexed more than
// once: equal score after 1e-6 rounding and an identical stored vector. The
// incoming order (score desc, id asc) makes the survivor the lowest id.
func (e *Engine) dedupeIdentical(snap *snapshot.Snapshot, results []*vector.VectorResult) []*vector.VectorResult {
	if len(results) < 2 {
		return results
	}
	seen := make(map[string]struct{}, len(results))
	out := results[:0]
	for _, r := range results {
		vec, ok := snap.Vectors.Vector(r.ID)
		if !ok {
			out = append(out, r)
			continue
		}
		key := strconv.FormatInt(int64(math.Round(r.Score*1e6)), 10) + ":" + vectorKey(vec)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// vectorKey hashes the exact float bits of a vector. Identical images embed
// to identical bits, so duplicates collide; nearby-but-distinct vectors do
// not.
func vectorKey(vec []float32) string {
	h := fnv.New64a()
	var b [4]byte
	for _, v := range vec {
		bits := math.Float32bits(v)
		b[0] = byte(bits)
		b[1] = byte(bits >> 8)
		b[2] = byte(bits >> 16)
		b[3] = byte(bits >> 24)
		_, _ = h.Write(b[:])
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// GetItem returns one catalog item from the serving snapshot.
func (e *Engine) GetItem(ctx context.Context, id int64) (*models.CatalogItem, error) {
	snap, err := e.manager.Acquire()
	if err != nil {
		return nil, err
	}
	defer snap.Release()
	return snap.Items.Get(ctx, id)
}

// ListItems returns a page of catalog items ordered by id.
func (e *Engine) ListItems(ctx context.Context, offset, limit int) ([]*models.CatalogItem, int64, error) {
	if offset < 0 {
		return nil, 0, &models.ValidationError{Field: "offset", Reason: "must not be negative"}
	}
	if limit < 0 || limit > maxListLimit {
		return nil, 0, &models.ValidationError{Field: "limit", Reason: fmt.Sprintf("must be between 1 and %d", maxListLimit)}
	}
	if limit == 0 {
		limit = defaultListLimit
	}

	snap, err := e.manager.Acquire()
	if err != nil {
		return nil, 0, err
	}
	defer snap.Release()

	items, err := snap.Items.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list items: %w", err)
	}
	total, err := snap.Items.Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count items: %w", err)
	}
	return items, total, nil
}

const (
	defaultListLimit    = 50
	maxListLimit        = 200
	defaultSearchLimit  = 20
	maxItemSearchLimit  = 100
	maxSpellSuggestions = 3
)

// SearchItems runs a keyword search over item names and categories. When
// nothing matches, it offers "did you mean" spellings built from the
// snapshot's own term dictionary.
func (e *Engine) SearchItems(ctx context.Context, query string, limit int) (*models.ItemSearchResponse, error) {
	if query == "" {
		return nil, &models.ValidationError{Field: "q", Reason: "must not be empty"}
	}
	if limit < 0 || limit > maxItemSearchLimit {
		return nil, &models.ValidationError{Field: "limit", Reason: fmt.Sprintf("must be between 1 and %d", maxItemSearchLimit)}
	}
	if limit == 0 {
		limit = defaultSearchLimit
	}

	snap, err := e.manager.Acquire()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	hits, err := snap.Keywords.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	resp := &models.ItemSearchResponse{Query: query, Items: []*models.CatalogItem{}}
	if len(hits) == 0 {
		resp.Suggestions = snap.Spell.QuerySuggestions(query, maxSpellSuggestions)
		return resp, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	itemMap, err := snap.Items.GetBatch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve items: %w", err)
	}
	// Keep Bleve's relevance order.
	items := make([]*models.CatalogItem, 0, len(hits))
	for _, h := range hits {
		item, ok := itemMap[h.ID]
		if !ok {
			e.logger.Warn("keyword hit missing from catalog",
				zap.Int64("id", h.ID),
				zap.String("snapshot", snap.Version))
			continue
		}
		items = append(items, item)
	}
	resp.Items = items
	resp.Total = len(items)
	return resp, nil
}
