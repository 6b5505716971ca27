package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/miwake/internal/config"
	"github.com/hyperjump/miwake/internal/embedding"
	"github.com/hyperjump/miwake/internal/guard"
	"github.com/hyperjump/miwake/internal/indexer"
	"github.com/hyperjump/miwake/internal/models"
	"github.com/hyperjump/miwake/internal/search"
	"github.com/hyperjump/miwake/internal/snapshot"
	"github.com/hyperjump/miwake/internal/source"
)

const testDims = 32

var (
	red   = color.RGBA{R: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
)

func encodePNG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, encodePNG(t, c), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

type serverFixture struct {
	server     *Server
	handler    http.Handler
	builder    *indexer.Builder
	catalogDir string
	cfg        *config.Config
}

// newServerFixture indexes a three item catalog and returns a routed server.
func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	catalogDir := t.TempDir()
	writePNG(t, filepath.Join(catalogDir, "shoes", "red-sneaker.png"), red)
	writePNG(t, filepath.Join(catalogDir, "shoes", "blue-boot.png"), blue)
	writePNG(t, filepath.Join(catalogDir, "mugs", "green-mug.png"), green)

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Storage: config.StorageConfig{
			DataDir:         t.TempDir(),
			RetainSnapshots: 2,
			ItemCacheSize:   16,
		},
		Search: config.SearchConfig{
			IndexType: "flat",
			DefaultK:  10,
		},
		Builder: config.BuilderConfig{
			Source:          catalogDir,
			BatchSize:       2,
			Workers:         2,
			DefaultCategory: "general",
			Extensions:      []string{".png"},
		},
		Embedding: config.EmbeddingConfig{
			Dimensions: testDims,
		},
		Guard: config.GuardConfig{
			MaxFileSizeMB:       10,
			FetchTimeoutSeconds: 5,
			AllowedMIMETypes:    []string{"image/png", "image/jpeg"},
			BlockedExtensions:   []string{".exe"},
		},
	}

	manager := snapshot.NewManager(cfg.Storage.SnapshotsDir(),
		snapshot.WithRetention(cfg.Storage.RetainSnapshots),
		snapshot.WithItemCacheSize(cfg.Storage.ItemCacheSize))
	t.Cleanup(manager.Close)

	embedder := embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	builder, err := indexer.NewBuilder(embedder, manager, cfg)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	src, err := source.NewLocalSource(catalogDir, cfg.Builder.Extensions)
	if err != nil {
		t.Fatalf("NewLocalSource: %v", err)
	}
	if _, err := builder.Rebuild(context.Background(), src); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	g := guard.New(&cfg.Guard)
	engine := search.NewEngine(g, embedder, manager, &cfg.Search)
	srv := NewServer(engine, builder, manager, cfg, zap.NewNop())
	return &serverFixture{
		server:     srv,
		handler:    srv.routes(),
		builder:    builder,
		catalogDir: catalogDir,
		cfg:        cfg,
	}
}

// multipartImage builds a multipart body with an image part carrying an
// explicit content type, the way browsers and curl send file uploads.
func multipartImage(t *testing.T, filename, contentType string, data []byte, form map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	fw, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	for k, v := range form {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func doRequest(fix *serverFixture, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	fix.handler.ServeHTTP(w, r)
	return w
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var e errorBody
	if err := json.NewDecoder(w.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e
}

func TestHandleSearch(t *testing.T) {
	fix := newServerFixture(t)

	body, contentType := multipartImage(t, "query.png", "image/png", encodePNG(t, red),
		map[string]string{"threshold": "0.9"})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", body)
	r.Header.Set("Content-Type", contentType)
	w := doRequest(fix, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out models.SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Total != 1 {
		t.Fatalf("total: got %d, want 1", out.Total)
	}
	if out.Results[0].Item.Name != "Red Sneaker" {
		t.Errorf("top hit: got %q, want %q", out.Results[0].Item.Name, "Red Sneaker")
	}
	if out.K != 10 {
		t.Errorf("k: got %d, want default 10", out.K)
	}
	if out.SnapshotVersion == "" {
		t.Error("snapshot_version missing")
	}
}

func TestHandleSearch_MissingFile(t *testing.T) {
	fix := newServerFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("k", "5")
	_ = mw.Close()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := doRequest(fix, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", w.Code)
	}
	if e := decodeError(t, w); e.Kind != "validation" {
		t.Errorf("kind: got %q, want validation", e.Kind)
	}
}

func TestHandleSearch_BadParams(t *testing.T) {
	fix := newServerFixture(t)

	tests := []struct {
		name string
		form map[string]string
	}{
		{"non numeric k", map[string]string{"k": "many"}},
		{"non numeric threshold", map[string]string{"threshold": "high"}},
		{"k out of range", map[string]string{"k": "101"}},
		{"threshold out of range", map[string]string{"threshold": "1.5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartImage(t, "query.png", "image/png", encodePNG(t, red), tt.form)
			r := httptest.NewRequest(http.MethodPost, "/api/v1/search", body)
			r.Header.Set("Content-Type", contentType)
			w := doRequest(fix, r)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d, want 400, body: %s", w.Code, w.Body.String())
			}
			if e := decodeError(t, w); e.Kind != "validation" {
				t.Errorf("kind: got %q, want validation", e.Kind)
			}
		})
	}
}

func TestHandleSearch_RejectsSpoofedImage(t *testing.T) {
	fix := newServerFixture(t)

	// Declared as PNG, actually text.
	body, contentType := multipartImage(t, "query.png", "image/png", []byte("#!/bin/sh\nrm -rf /"), nil)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", body)
	r.Header.Set("Content-Type", contentType)
	w := doRequest(fix, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400, body: %s", w.Code, w.Body.String())
	}
	if e := decodeError(t, w); e.Kind != "validation" {
		t.Errorf("kind: got %q, want validation", e.Kind)
	}
}

func TestHandleSearch_CorruptImage(t *testing.T) {
	fix := newServerFixture(t)

	// Valid PNG signature, garbage after: passes the content sniff, fails the
	// decoder.
	data := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0xAB}, 64)...)
	body, contentType := multipartImage(t, "query.png", "image/png", data, nil)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", body)
	r.Header.Set("Content-Type", contentType)
	w := doRequest(fix, r)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status: got %d, want 422, body: %s", w.Code, w.Body.String())
	}
	if e := decodeError(t, w); e.Kind != "undecodable" {
		t.Errorf("kind: got %q, want undecodable", e.Kind)
	}
}

func TestHandleSearchURL_Blocked(t *testing.T) {
	fix := newServerFixture(t)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/search/url",
		strings.NewReader(`{"url": "http://127.0.0.1:9/image.png"}`))
	r.Header.Set("Content-Type", "application/json")
	w := doRequest(fix, r)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status: got %d, want 403, body: %s", w.Code, w.Body.String())
	}
	if e := decodeError(t, w); e.Kind != "forbidden" {
		t.Errorf("kind: got %q, want forbidden", e.Kind)
	}
}

func TestHandleSearchURL_BadRequest(t *testing.T) {
	fix := newServerFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"not json", `not json at all`},
		{"ftp scheme", `{"url": "ftp://example.com/image.png"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/search/url", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", "application/json")
			w := doRequest(fix, r)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d, want 400, body: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestHandleGetItem(t *testing.T) {
	fix := newServerFixture(t)

	w := doRequest(fix, httptest.NewRequest(http.MethodGet, "/api/v1/items/1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var item models.CatalogItem
	if err := json.NewDecoder(w.Body).Decode(&item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	if item.ID != 1 || item.Name == "" {
		t.Errorf("item: got id %d name %q", item.ID, item.Name)
	}

	w = doRequest(fix, httptest.NewRequest(http.MethodGet, "/api/v1/items/9999", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing item status: got %d, want 404", w.Code)
	}
	if e := decodeError(t, w); e.Kind != "not_found" {
		t.Errorf("kind: got %q, want not_found", e.Kind)
	}

	w = doRequest(fix, httptest.NewRequest(http.MethodGet, "/api/v1/items/abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status: got %d, want 400", w.Code)
	}
}

func TestHandleListItems(t *testing.T) {
	fix := newServerFixture(t)

	w := doRequest(fix, httptest.NewRequest(http.MethodGet, "/api/v1/items?offset=0&limit=2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		Items  []*models.CatalogItem `json:"items"`
		Total  int64                 `json:"total"`
		Offset int                   `json:"offset"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out.Items) != 2 {
		t.Errorf("items: got %d, want 2", len(out.Items))
	}
	if out.Total != 3 {
		t.Errorf("total: got %d, want 3", out.Total)
	}

	w = doRequest(fix, httptest.NewRequest(http.MethodGet, "/api/v1/items?limit=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status: got %d, want 400", w.Code)
	}

	w = doRequest(fix, httptest.NewRequest(http.MethodGet, "/api/v1/items?offset=-1", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("negative offset status: got %d, want 400", w.Code)
	}
}

func TestHandleSearchItems(t *testing.T) {
	fix := newServerFixture(t)

	w := doRequest(fix, httptest.NewRequest(http.MethodGet, "/api/v1/items/search?q=sneaker", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out models.ItemSearchResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Total != 1 || out.Items[0].Name != "Red Sneaker" {
		t.Errorf("hits: got total %d, want the sneaker", out.Total)
	}

	// Missing q is a validation error.
	w = doRequest(fix, httptest.NewRequest(http.MethodGet, "/api/v1/items/search", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing q status: got %d, want 400", w.Code)
	}
}

func TestHandleSearchItems_Suggestions(t *testing.T) {
	fix := newServerFixture(t)

	w := doRequest(fix, httptest.NewRequest(http.MethodGet, "/api/v1/items/search?q=sneakr", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out models.ItemSearchResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Total != 0 {
		t.Errorf("total: got %d, want 0", out.Total)
	}
	if len(out.Suggestions) == 0 || out.Suggestions[0] != "sneaker" {
		t.Errorf("suggestions: got %v, want sneaker first", out.Suggestions)
	}
}

func TestHandleStats(t *testing.T) {
	fix := newServerFixture(t)

	w := doRequest(fix, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var stats models.CatalogStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalItems != 3 {
		t.Errorf("total_items: got %d, want 3", stats.TotalItems)
	}
	if stats.Categories["shoes"] != 2 || stats.Categories["mugs"] != 1 {
		t.Errorf("categories: got %v", stats.Categories)
	}
	if stats.VectorDimension != testDims {
		t.Errorf("vector_dimension: got %d, want %d", stats.VectorDimension, testDims)
	}
	if stats.IndexDiskBytes <= 0 {
		t.Errorf("index_disk_bytes: got %d, want > 0", stats.IndexDiskBytes)
	}
}

func TestHandleHealth(t *testing.T) {
	fix := newServerFixture(t)

	w := doRequest(fix, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var health models.Health
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("status: got %q, want ok", health.Status)
	}
	if health.CatalogSize != 3 {
		t.Errorf("catalog_size: got %d, want 3", health.CatalogSize)
	}
	if health.SnapshotVersion == "" {
		t.Error("snapshot_version missing")
	}
}

func TestHandleHealth_NoSnapshot(t *testing.T) {
	cfg := &config.Config{
		Search: config.SearchConfig{IndexType: "flat", DefaultK: 10},
		Guard: config.GuardConfig{
			MaxFileSizeMB:       10,
			FetchTimeoutSeconds: 5,
			AllowedMIMETypes:    []string{"image/png"},
		},
	}
	manager := snapshot.NewManager(filepath.Join(t.TempDir(), "snapshots"))
	t.Cleanup(manager.Close)
	g := guard.New(&cfg.Guard)
	engine := search.NewEngine(g, embedding.NewMockEmbedder(testDims), manager, &cfg.Search)
	srv := NewServer(engine, nil, manager, cfg, zap.NewNop())
	handler := srv.routes()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", w.Code)
	}
	var health models.Health
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "unavailable" {
		t.Errorf("status: got %q, want unavailable", health.Status)
	}

	// Queries against the same server report the snapshot gap as 503.
	body, contentType := multipartImage(t, "query.png", "image/png", encodePNG(t, red), nil)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", body)
	r.Header.Set("Content-Type", contentType)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("search status: got %d, want 503, body: %s", w.Code, w.Body.String())
	}
}

func TestHandleRebuild(t *testing.T) {
	fix := newServerFixture(t)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/admin/rebuild", strings.NewReader("{}"))
	r.Header.Set("Content-Type", "application/json")
	w := doRequest(fix, r)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.JobID == "" {
		t.Fatal("job_id missing")
	}
	if out.Status != models.JobRunning {
		t.Errorf("status: got %q, want %q", out.Status, models.JobRunning)
	}

	job := waitForJob(t, fix, out.JobID)
	if job.Status != models.JobCompleted {
		t.Fatalf("final status: got %q (%s), want completed", job.Status, job.Error)
	}
	if job.ItemCount != 3 {
		t.Errorf("item_count: got %d, want 3", job.ItemCount)
	}
	if job.Version == "" {
		t.Error("version missing from completed job")
	}
}

func TestHandleRebuild_NoSource(t *testing.T) {
	fix := newServerFixture(t)
	fix.cfg.Builder.Source = ""

	r := httptest.NewRequest(http.MethodPost, "/api/v1/admin/rebuild", strings.NewReader("{}"))
	r.Header.Set("Content-Type", "application/json")
	w := doRequest(fix, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400, body: %s", w.Code, w.Body.String())
	}
}

type blockingSource struct {
	release chan struct{}
}

func (s *blockingSource) List(ctx context.Context) ([]source.File, error) {
	select {
	case <-s.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *blockingSource) Open(ctx context.Context, file source.File) ([]byte, error) {
	return nil, os.ErrNotExist
}

func (s *blockingSource) Locator() string { return "blocking" }

func TestHandleRebuild_Conflict(t *testing.T) {
	fix := newServerFixture(t)

	blocking := &blockingSource{release: make(chan struct{})}
	job, err := fix.builder.StartRebuild(context.Background(), blocking)
	if err != nil {
		t.Fatalf("StartRebuild: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/api/v1/admin/rebuild", strings.NewReader("{}"))
	r.Header.Set("Content-Type", "application/json")
	w := doRequest(fix, r)

	if w.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want 409, body: %s", w.Code, w.Body.String())
	}
	if e := decodeError(t, w); e.Kind != "conflict" {
		t.Errorf("kind: got %q, want conflict", e.Kind)
	}

	close(blocking.release)
	waitForJob(t, fix, job.ID)
}

func TestHandleRebuildStatus_NotFound(t *testing.T) {
	fix := newServerFixture(t)

	w := doRequest(fix, httptest.NewRequest(http.MethodGet, "/api/v1/admin/rebuild/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", w.Code)
	}
}

// waitForJob polls the job status endpoint until the job leaves the running
// state.
func waitForJob(t *testing.T, fix *serverFixture, id string) *models.RebuildJob {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		w := doRequest(fix, httptest.NewRequest(http.MethodGet, "/api/v1/admin/rebuild/"+id, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("job status: got %d, body: %s", w.Code, w.Body.String())
		}
		var job models.RebuildJob
		if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
			t.Fatalf("decode job: %v", err)
		}
		if job.Status != models.JobRunning {
			return &job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s still running after 10s", id)
	return nil
}
