// Package config provides configuration loading and structs for the Miwake server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Guard     GuardConfig     `yaml:"guard"`
	Builder   BuilderConfig   `yaml:"builder"`
	Watch     WatchConfig     `yaml:"watch"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the data directory layout. Snapshots are written under
// <data_dir>/snapshots/<version> and the active one is named by a CURRENT file.
type StorageConfig struct {
	DataDir         string `yaml:"data_dir"`
	RetainSnapshots int    `yaml:"retain_snapshots"`
	// ItemCacheSize bounds the per-snapshot LRU over catalog item rows.
	ItemCacheSize int `yaml:"item_cache_size"`
}

// SnapshotsDir returns the directory holding versioned snapshots.
func (s *StorageConfig) SnapshotsDir() string {
	return filepath.Join(s.DataDir, "snapshots")
}

// EmbeddingConfig holds embedder settings. Runtime selects the implementation:
// "onnx" requires the model file, "mock" is deterministic and model-free, and
// "auto" tries ONNX first and falls back to mock with a warning.
type EmbeddingConfig struct {
	Runtime    string `yaml:"runtime"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	Device     string `yaml:"device"`
	InputName  string `yaml:"input_name"`
	OutputName string `yaml:"output_name"`
	CacheSize  int    `yaml:"cache_size"`
}

// SearchConfig holds query defaults and index selection.
type SearchConfig struct {
	DefaultK int `yaml:"default_k"`
	// DefaultThreshold applies when a query carries no threshold. Pointer so an
	// explicit 0.0 in the file is distinguishable from unset.
	DefaultThreshold *float64 `yaml:"default_threshold"`
	// DedupeIdentical collapses results whose vectors are identical, keeping the
	// lowest item id. Off by default: duplicate catalog entries stay distinct.
	DedupeIdentical bool   `yaml:"dedupe_identical"`
	IndexType       string `yaml:"index_type"`
}

// DefaultThresholdValue returns the configured default threshold.
func (s *SearchConfig) DefaultThresholdValue() float64 {
	if s.DefaultThreshold != nil {
		return *s.DefaultThreshold
	}
	return 0.25
}

// GuardConfig holds ingestion validation limits.
type GuardConfig struct {
	MaxFileSizeMB       int      `yaml:"max_file_size_mb"`
	MaxURLLength        int      `yaml:"max_url_length"`
	FetchTimeoutSeconds int      `yaml:"fetch_timeout_seconds"`
	MaxRedirects        int      `yaml:"max_redirects"`
	AllowedMIMETypes    []string `yaml:"allowed_mime_types"`
	BlockedExtensions   []string `yaml:"blocked_extensions"`
}

// MaxFileSizeBytes returns the upload ceiling in bytes.
func (g *GuardConfig) MaxFileSizeBytes() int64 {
	return int64(g.MaxFileSizeMB) << 20
}

// BuilderConfig holds catalog rebuild settings. Source is a local directory or
// an s3://bucket/prefix locator.
type BuilderConfig struct {
	Source          string   `yaml:"source"`
	BatchSize       int      `yaml:"batch_size"`
	Workers         int      `yaml:"workers"`
	DefaultCategory string   `yaml:"default_category"`
	Extensions      []string `yaml:"extensions"`
	S3Region        string   `yaml:"s3_region"`
}

// WatchConfig holds catalog auto-rebuild settings. When enabled and the builder
// source is a local directory, changes trigger a debounced rebuild.
type WatchConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMS int  `yaml:"debounce_ms"`
}

// LoggingConfig holds log output settings. When File is set, logs rotate there;
// otherwise they go to stderr.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads and parses the config file at path, applies defaults, expands paths,
// and validates the result. Returns an error if the file cannot be read or parsed,
// or if a setting is out of range.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	if cfg.Builder.Source != "" && !strings.HasPrefix(cfg.Builder.Source, "s3://") {
		cfg.Builder.Source = expandPath(cfg.Builder.Source, configDir)
	}
	if cfg.Logging.File != "" {
		cfg.Logging.File = expandPath(cfg.Logging.File, configDir)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that would make the service serve garbage. These are
// deployment errors: the process must refuse to start rather than limp along.
func Validate(cfg *Config) error {
	if cfg.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", cfg.Embedding.Dimensions)
	}
	switch cfg.Embedding.Runtime {
	case "onnx", "mock", "auto":
	default:
		return fmt.Errorf("embedding.runtime must be onnx, mock, or auto, got %q", cfg.Embedding.Runtime)
	}
	switch cfg.Embedding.Device {
	case "cpu", "cuda", "auto":
	default:
		return fmt.Errorf("embedding.device must be cpu, cuda, or auto, got %q", cfg.Embedding.Device)
	}
	switch cfg.Search.IndexType {
	case "flat", "faiss":
	default:
		return fmt.Errorf("search.index_type must be flat or faiss, got %q", cfg.Search.IndexType)
	}
	if cfg.Search.DefaultK < 1 || cfg.Search.DefaultK > 100 {
		return fmt.Errorf("search.default_k must be between 1 and 100, got %d", cfg.Search.DefaultK)
	}
	if t := cfg.Search.DefaultThresholdValue(); t < -1 || t > 1 {
		return fmt.Errorf("search.default_threshold must be between -1 and 1, got %g", t)
	}
	if cfg.Guard.MaxFileSizeMB <= 0 {
		return fmt.Errorf("guard.max_file_size_mb must be positive, got %d", cfg.Guard.MaxFileSizeMB)
	}
	if cfg.Storage.RetainSnapshots < 1 {
		return fmt.Errorf("storage.retain_snapshots must be at least 1, got %d", cfg.Storage.RetainSnapshots)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
