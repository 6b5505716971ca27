package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  data_dir: "./data"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("data_dir should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  data_dir: "./data"
builder:
  source: "./catalog"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantData := filepath.Join(dir, "data")
	if cfg.Storage.DataDir != wantData {
		t.Errorf("data_dir = %s, want %s", cfg.Storage.DataDir, wantData)
	}
	wantSource := filepath.Join(dir, "catalog")
	if cfg.Builder.Source != wantSource {
		t.Errorf("builder source = %s, want %s", cfg.Builder.Source, wantSource)
	}
}

func TestLoad_s3SourceNotExpanded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
builder:
  source: "s3://catalog-bucket/images"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Builder.Source != "s3://catalog-bucket/images" {
		t.Errorf("s3 source was rewritten: %s", cfg.Builder.Source)
	}
}

func TestLoad_rejectsBadSettings(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad runtime", "embedding:\n  runtime: tensorflow\n"},
		{"bad device", "embedding:\n  device: tpu\n"},
		{"bad index type", "search:\n  index_type: hnsw\n"},
		{"negative dimensions", "embedding:\n  dimensions: -1\n"},
		{"threshold out of range", "search:\n  default_threshold: 2.0\n"},
		{"default_k out of range", "search:\n  default_k: 500\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected Load to reject invalid config")
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Embedding.Dimensions != 512 {
		t.Errorf("default dimensions: got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Embedding.InputName != "pixel_values" || cfg.Embedding.OutputName != "image_embeds" {
		t.Errorf("default tensor names: got %q/%q", cfg.Embedding.InputName, cfg.Embedding.OutputName)
	}
	if cfg.Search.DefaultK != 10 {
		t.Errorf("default k: got %d", cfg.Search.DefaultK)
	}
	if got := cfg.Search.DefaultThresholdValue(); got != 0.25 {
		t.Errorf("default threshold: got %g, want 0.25", got)
	}
	if cfg.Search.IndexType != "flat" {
		t.Errorf("default index type: got %s", cfg.Search.IndexType)
	}
	if cfg.Guard.MaxFileSizeMB != 10 {
		t.Errorf("default max file size: got %d", cfg.Guard.MaxFileSizeMB)
	}
	if cfg.Guard.MaxFileSizeBytes() != 10<<20 {
		t.Errorf("max file size bytes: got %d", cfg.Guard.MaxFileSizeBytes())
	}
	if len(cfg.Guard.AllowedMIMETypes) != 4 || cfg.Guard.AllowedMIMETypes[0] != "image/jpeg" {
		t.Errorf("allowed mime types: got %v", cfg.Guard.AllowedMIMETypes)
	}
	if len(cfg.Guard.BlockedExtensions) == 0 {
		t.Error("blocked extensions should be set by default")
	}
	if cfg.Builder.BatchSize != 32 || cfg.Builder.Workers != 4 {
		t.Errorf("builder defaults: batch=%d workers=%d", cfg.Builder.BatchSize, cfg.Builder.Workers)
	}
	if cfg.Builder.DefaultCategory != "general" {
		t.Errorf("default category: got %s", cfg.Builder.DefaultCategory)
	}
	if cfg.Storage.RetainSnapshots != 2 {
		t.Errorf("default retain_snapshots: got %d", cfg.Storage.RetainSnapshots)
	}
}

func TestSearchConfig_DefaultThresholdValue(t *testing.T) {
	t.Run("explicit zero is kept", func(t *testing.T) {
		zero := 0.0
		s := &SearchConfig{DefaultThreshold: &zero}
		if got := s.DefaultThresholdValue(); got != 0 {
			t.Errorf("DefaultThresholdValue() = %g, want 0", got)
		}
	})
	t.Run("nil falls back", func(t *testing.T) {
		s := &SearchConfig{}
		if got := s.DefaultThresholdValue(); got != 0.25 {
			t.Errorf("DefaultThresholdValue() = %g, want 0.25", got)
		}
	})
}

func TestStorageConfig_SnapshotsDir(t *testing.T) {
	s := &StorageConfig{DataDir: "/var/lib/miwake"}
	want := filepath.Join("/var/lib/miwake", "snapshots")
	if got := s.SnapshotsDir(); got != want {
		t.Errorf("SnapshotsDir() = %s, want %s", got, want)
	}
}
