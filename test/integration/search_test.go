// Package integration provides full-stack tests (real snapshots on disk).
package integration

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/miwake/internal/config"
	"github.com/hyperjump/miwake/internal/embedding"
	"github.com/hyperjump/miwake/internal/guard"
	"github.com/hyperjump/miwake/internal/indexer"
	"github.com/hyperjump/miwake/internal/models"
	"github.com/hyperjump/miwake/internal/search"
	"github.com/hyperjump/miwake/internal/snapshot"
	"github.com/hyperjump/miwake/internal/source"
)

const integrationDims = 16

func integrationConfig(dataDir, catalogDir string) *config.Config {
	return &config.Config{
		Storage:   config.StorageConfig{DataDir: dataDir, RetainSnapshots: 2, ItemCacheSize: 32},
		Embedding: config.EmbeddingConfig{Runtime: "mock", Dimensions: integrationDims},
		Search:    config.SearchConfig{DefaultK: 5, IndexType: "flat"},
		Guard: config.GuardConfig{
			MaxFileSizeMB:       5,
			FetchTimeoutSeconds: 5,
			AllowedMIMETypes:    []string{"image/png", "image/jpeg"},
		},
		Builder: config.BuilderConfig{
			Source:          catalogDir,
			BatchSize:       4,
			Workers:         2,
			DefaultCategory: "general",
			Extensions:      []string{".png", ".jpg"},
		},
	}
}

func solidPNG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeCatalog(t *testing.T, root string) map[string][]byte {
	t.Helper()
	files := map[string]color.RGBA{
		"shoes/red-sneaker.png": {R: 220, G: 30, B: 30, A: 255},
		"mugs/blue-mug.png":     {R: 30, G: 60, B: 220, A: 255},
		"spare-strap.png":       {R: 30, G: 200, B: 90, A: 255},
	}
	out := make(map[string][]byte, len(files))
	for rel, c := range files {
		data := solidPNG(t, c)
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatal(err)
		}
		out[rel] = data
	}
	return out
}

func TestIntegration_RebuildAndSearch(t *testing.T) {
	catalogDir := t.TempDir()
	files := writeCatalog(t, catalogDir)
	cfg := integrationConfig(t.TempDir(), catalogDir)

	embedder := embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	defer embedder.Close()

	manager := snapshot.NewManager(cfg.Storage.SnapshotsDir(),
		snapshot.WithRetention(cfg.Storage.RetainSnapshots))
	defer manager.Close()

	builder, err := indexer.NewBuilder(embedder, manager, cfg)
	if err != nil {
		t.Fatal(err)
	}
	src, err := source.NewLocalSource(catalogDir, cfg.Builder.Extensions)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	manifest, err := builder.Rebuild(ctx, src)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if manifest.ItemCount != 3 {
		t.Fatalf("item count = %d, want 3", manifest.ItemCount)
	}

	engine := search.NewEngine(guard.New(&cfg.Guard), embedder, manager, &cfg.Search)
	resp, err := engine.Search(ctx, guard.Upload{
		Data:         files["shoes/red-sneaker.png"],
		Filename:     "red-sneaker.png",
		DeclaredMIME: "image/png",
	}, &models.SearchQuery{K: 3})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("expected at least 1 result")
	}
	top := resp.Results[0]
	if top.Item.Name != "Red Sneaker" {
		t.Errorf("top result = %q, want %q", top.Item.Name, "Red Sneaker")
	}
	if top.Item.Category != "shoes" {
		t.Errorf("top category = %q, want %q", top.Item.Category, "shoes")
	}
	if top.Score < 0.999 {
		t.Errorf("self-query score = %.6f, want >= 0.999", top.Score)
	}

	// The root-level file falls back to the default category.
	item, err := engine.GetItem(ctx, top.Item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Name != top.Item.Name {
		t.Errorf("GetItem name = %q, want %q", item.Name, top.Item.Name)
	}
	stats, err := manager.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Categories["general"] != 1 {
		t.Errorf("general category count = %d, want 1", stats.Categories["general"])
	}
}

// A fresh manager over the same data dir must serve the published snapshot,
// which is what a process restart does.
func TestIntegration_SearchAfterReload(t *testing.T) {
	catalogDir := t.TempDir()
	files := writeCatalog(t, catalogDir)
	cfg := integrationConfig(t.TempDir(), catalogDir)

	embedder := embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	defer embedder.Close()

	ctx := context.Background()

	first := snapshot.NewManager(cfg.Storage.SnapshotsDir())
	builder, err := indexer.NewBuilder(embedder, first, cfg)
	if err != nil {
		t.Fatal(err)
	}
	src, err := source.NewLocalSource(catalogDir, cfg.Builder.Extensions)
	if err != nil {
		t.Fatal(err)
	}
	manifest, err := builder.Rebuild(ctx, src)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	first.Close()

	second := snapshot.NewManager(cfg.Storage.SnapshotsDir())
	defer second.Close()
	if err := second.LoadCurrent(ctx); err != nil {
		t.Fatalf("load current: %v", err)
	}
	health, err := second.Health(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" {
		t.Fatalf("health status = %q, want ok", health.Status)
	}
	if health.SnapshotVersion != manifest.Version {
		t.Errorf("reloaded version = %q, want %q", health.SnapshotVersion, manifest.Version)
	}

	engine := search.NewEngine(guard.New(&cfg.Guard), embedder, second, &cfg.Search)
	resp, err := engine.Search(ctx, guard.Upload{
		Data:         files["mugs/blue-mug.png"],
		Filename:     "blue-mug.png",
		DeclaredMIME: "image/png",
	}, &models.SearchQuery{K: 1})
	if err != nil {
		t.Fatalf("search after reload: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(resp.Results))
	}
	if got := resp.Results[0].Item.Name; got != "Blue Mug" {
		t.Errorf("top result = %q, want %q", got, "Blue Mug")
	}
}
