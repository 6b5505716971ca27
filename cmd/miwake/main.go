// Package main is the Miwake CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/miwake/internal/cli"
	"github.com/hyperjump/miwake/internal/config"
	"github.com/hyperjump/miwake/internal/embedding"
	"github.com/hyperjump/miwake/internal/guard"
	"github.com/hyperjump/miwake/internal/indexer"
	"github.com/hyperjump/miwake/internal/models"
	"github.com/hyperjump/miwake/internal/search"
	"github.com/hyperjump/miwake/internal/server"
	"github.com/hyperjump/miwake/internal/snapshot"
	"github.com/hyperjump/miwake/internal/source"
	"github.com/hyperjump/miwake/internal/watcher"
	"github.com/hyperjump/miwake/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/miwake/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "miwake server" from the project dir uses the project's config (including debug).
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// newLogger builds the process logger. A configured log file gets a rotating
// JSON sink; otherwise logs go to stderr.
func newLogger(cfg *config.Config, debug bool) (*zap.Logger, error) {
	if cfg.Logging.File != "" {
		return utils.NewRotatingLogger(utils.FileLogConfig{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		}, debug)
	}
	return utils.NewLogger(debug)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "rebuild":
		runRebuild()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("miwake version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (catalog changes, rebuild batches, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := newLogger(cfg, debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	if err := components.Manager.LoadCurrent(ctx); err != nil {
		logger.Warn("no serving snapshot yet", zap.Error(err))
		if cfg.Builder.Source != "" {
			// First boot on an empty data dir: build from the configured
			// source instead of waiting for an admin call.
			src, srcErr := source.New(ctx, cfg.Builder.Source, cfg.Builder.Extensions, cfg.Builder.S3Region)
			if srcErr != nil {
				logger.Error("catalog source unavailable", zap.Error(srcErr))
			} else if _, jobErr := components.Builder.StartRebuild(ctx, src); jobErr != nil {
				logger.Error("initial rebuild failed to start", zap.Error(jobErr))
			}
		}
	}

	if cfg.Watch.Enabled {
		if cfg.Builder.Source == "" || strings.HasPrefix(cfg.Builder.Source, "s3://") {
			logger.Info("watch enabled but builder source is not a local directory, skipping")
		} else {
			debounce := time.Duration(cfg.Watch.DebounceMS) * time.Millisecond
			watch := watcher.NewWatcher(cfg.Builder.Source, cfg.Builder.Extensions,
				components.Builder, debounce, watcher.WithLogger(logger))
			watchCtx, watchCancel := context.WithCancel(ctx)
			defer watchCancel()
			if err := watch.Start(watchCtx); err != nil {
				logger.Fatal("Failed to start watcher", zap.Error(err))
			}
			defer watch.Stop()
		}
	}

	srv := server.NewServer(components.Engine, components.Builder, components.Manager, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: miwake search [flags]\n\n")
	fmt.Fprintf(fs.Output(), "Exactly one of -image or -url selects the query picture.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Results are catalog items ranked by visual similarity to the query.
  • -k bounds how many items come back; -threshold drops low-similarity hits.
  • -format json emits the raw response for other tools; compact is one hit per line.
  • With -server "" the query runs against the snapshot on disk, no server needed.

Examples:
  miwake search -image ./query.jpg
  miwake search -image ./query.jpg -k 5 -threshold 0.5
  miwake search -url https://shop.example.com/shoe.jpg -format json
  miwake search -image ./query.jpg -server ""
`)
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = search the snapshot on disk directly)")
	imagePath := fs.String("image", "", "path to the query image file")
	imageURL := fs.String("url", "", "URL of the query image (fetched by the server)")
	k := fs.Int("k", 0, "number of results (0 = configured default)")
	threshold := fs.Float64("threshold", 0, "minimum similarity in [-1, 1] (unset = configured default)")
	outputFormat := fs.String("format", "text", "output format: text, compact, or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(os.Args[2:])

	if (*imagePath == "") == (*imageURL == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -image or -url is required")
		printSearchUsage(fs)
		os.Exit(1)
	}

	var format cli.SearchOutputFormat
	switch *outputFormat {
	case "text":
		format = cli.OutputText
	case "compact":
		format = cli.OutputCompact
	case "json":
		format = cli.OutputJSON
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text, compact, or json\n", *outputFormat)
		os.Exit(1)
	}

	query := &models.SearchQuery{K: *k}
	// An explicit -threshold 0 means "no filtering", which is different from
	// the configured default, so only a flag the user set is forwarded.
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "threshold" {
			query.Threshold = threshold
		}
	})

	var response *models.SearchResponse
	var err error
	switch {
	case *serverURL == "":
		response, err = searchDirect(*configPath, *imagePath, *imageURL, query)
	case *imageURL != "":
		response, err = searchURLViaHTTP(*serverURL, *imageURL, query)
	default:
		response, err = searchUploadViaHTTP(*serverURL, *imagePath, query)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// searchDirect runs the query against the snapshot on disk, without a server.
// Snapshot stores open read-only, so this is safe next to a running server.
func searchDirect(configPath, imagePath, imageURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg, cfg.Debug)
	if err != nil {
		return nil, err
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer components.Close()
	if err := components.Manager.LoadCurrent(context.Background()); err != nil {
		return nil, fmt.Errorf("no snapshot to search, run \"miwake rebuild\" first: %w", err)
	}

	var input guard.Input
	if imageURL != "" {
		input = guard.Remote{URL: imageURL}
	} else {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return nil, err
		}
		input = guard.Upload{
			Data:         data,
			Filename:     filepath.Base(imagePath),
			DeclaredMIME: http.DetectContentType(data),
		}
	}
	return components.Engine.Search(context.Background(), input, query)
}

func decodeSearchResponse(resp *http.Response) (*models.SearchResponse, error) {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func searchUploadViaHTTP(serverURL, path string, query *models.SearchQuery) (*models.SearchResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	// The server rejects parts without a media type, so declare what the
	// bytes look like.
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filepath.Base(path)))
	header.Set("Content-Type", http.DetectContentType(data))
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if query.K > 0 {
		_ = mw.WriteField("k", strconv.Itoa(query.K))
	}
	if query.Threshold != nil {
		_ = mw.WriteField("threshold", strconv.FormatFloat(*query.Threshold, 'f', -1, 64))
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/search", mw.FormDataContentType(), &body)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return decodeSearchResponse(resp)
}

func searchURLViaHTTP(serverURL, imageURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	payload := struct {
		URL       string   `json:"url"`
		K         int      `json:"k,omitempty"`
		Threshold *float64 `json:"threshold,omitempty"`
	}{URL: imageURL, K: query.K, Threshold: query.Threshold}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/search/url", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return decodeSearchResponse(resp)
}

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = build locally without a server)")
	sourceFlag := fs.String("source", "", "catalog source: local directory or s3://bucket/prefix (default from config)")
	wait := fs.Bool("wait", true, "wait for the rebuild to finish")
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		// A running server has to build its own snapshot so it swaps to it;
		// a snapshot published by another process is only seen on restart.
		job, err := rebuildViaHTTP(*serverURL, *sourceFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Rebuild failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Rebuild started: job %s\n", job.ID)
		if !*wait {
			return
		}
		final, err := waitForRebuildHTTP(*serverURL, job.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Rebuild failed: %v\n", err)
			os.Exit(1)
		}
		if final.Status != models.JobCompleted {
			fmt.Fprintf(os.Stderr, "Rebuild failed: %s\n", final.Error)
			os.Exit(1)
		}
		fmt.Printf("Rebuild complete: snapshot %s, %d items\n", final.Version, final.ItemCount)
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	locator := *sourceFlag
	if locator == "" {
		locator = cfg.Builder.Source
	}
	if locator == "" {
		fmt.Fprintln(os.Stderr, "no catalog source configured; pass -source or set builder.source")
		os.Exit(1)
	}
	logger, err := newLogger(cfg, cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	ctx := context.Background()
	src, err := source.New(ctx, locator, cfg.Builder.Extensions, cfg.Builder.S3Region)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Catalog source unavailable: %v\n", err)
		os.Exit(1)
	}
	started := time.Now()
	manifest, err := components.Builder.Rebuild(ctx, src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Rebuild failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Rebuild complete: snapshot %s, %d items in %s\n",
		manifest.Version, manifest.ItemCount, time.Since(started).Round(time.Millisecond))
}

func rebuildViaHTTP(serverURL, src string) (*models.RebuildJob, error) {
	body, err := json.Marshal(map[string]string{"source": src})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/admin/rebuild", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var job models.RebuildJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &job, nil
}

func waitForRebuildHTTP(serverURL, id string) (*models.RebuildJob, error) {
	for {
		resp, err := http.Get(serverURL + "/api/v1/admin/rebuild/" + id)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
		var job models.RebuildJob
		err = json.NewDecoder(resp.Body).Decode(&job)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if job.Status != models.JobRunning {
			return &job, nil
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// statusReport is what the status command renders: health always, catalog
// stats when a snapshot is serving.
type statusReport struct {
	Health *models.Health       `json:"health"`
	Stats  *models.CatalogStats `json:"stats,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = read the snapshot on disk directly)")
	outputFormat := fs.String("format", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var report *statusReport
	var err error
	if *serverURL != "" {
		report, err = statusViaHTTP(*serverURL)
	} else {
		report, err = statusDirect(*configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		printStatusText(report)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*statusReport, error) {
	resp, err := http.Get(serverURL + "/health")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	// 503 still carries the health payload (status "unavailable").
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var health models.Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	report := &statusReport{Health: &health}
	if health.Status != "ok" {
		return report, nil
	}

	sresp, err := http.Get(serverURL + "/api/v1/stats")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer sresp.Body.Close()
	if sresp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(sresp.Body)
		return nil, fmt.Errorf("server returned %d: %s", sresp.StatusCode, strings.TrimSpace(string(b)))
	}
	var stats models.CatalogStats
	if err := json.NewDecoder(sresp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	report.Stats = &stats
	return report, nil
}

func statusDirect(configPath string) (*statusReport, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg, cfg.Debug)
	if err != nil {
		return nil, err
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer components.Close()

	ctx := context.Background()
	// A missing CURRENT just means nothing is serving; Health says so.
	_ = components.Manager.LoadCurrent(ctx)
	health, err := components.Manager.Health(ctx)
	if err != nil {
		return nil, err
	}
	report := &statusReport{Health: health}
	if health.Status == "ok" {
		stats, err := components.Manager.Stats(ctx)
		if err != nil {
			return nil, err
		}
		report.Stats = stats
	}
	return report, nil
}

func printStatusText(report *statusReport) {
	fmt.Printf("status:            %s\n", report.Health.Status)
	if report.Health.SnapshotVersion != "" {
		fmt.Printf("snapshot_version:  %s\n", report.Health.SnapshotVersion)
	}
	fmt.Printf("catalog_size:      %d   # items in the serving snapshot\n", report.Health.CatalogSize)
	fmt.Printf("vector_dimension:  %d\n", report.Health.VectorDimension)
	if report.Stats == nil {
		return
	}
	fmt.Println()
	fmt.Println("# catalog")
	fmt.Printf("index_disk_bytes:  %d   # %s on disk\n",
		report.Stats.IndexDiskBytes, cli.FormatBytes(report.Stats.IndexDiskBytes))
	if len(report.Stats.Categories) > 0 {
		fmt.Println("categories:")
		names := make([]string, 0, len(report.Stats.Categories))
		for name := range report.Stats.Categories {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-20s %d\n", name, report.Stats.Categories[name])
		}
	}
}

// components holds initialized services.
type components struct {
	Embedder embedding.Embedder
	Manager  *snapshot.Manager
	Builder  *indexer.Builder
	Guard    *guard.Guard
	Engine   *search.Engine
}

func (c *components) Close() {
	if c.Manager != nil {
		c.Manager.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	embedder, err := newEmbedder(&cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	manager := snapshot.NewManager(cfg.Storage.SnapshotsDir(),
		snapshot.WithLogger(logger),
		snapshot.WithRetention(cfg.Storage.RetainSnapshots),
		snapshot.WithItemCacheSize(cfg.Storage.ItemCacheSize),
	)

	builder, err := indexer.NewBuilder(embedder, manager, cfg, indexer.WithLogger(logger))
	if err != nil {
		manager.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize builder: %w", err)
	}

	g := guard.New(&cfg.Guard, guard.WithLogger(logger))
	engine := search.NewEngine(g, embedder, manager, &cfg.Search, search.WithLogger(logger))

	return &components{
		Embedder: embedder,
		Manager:  manager,
		Builder:  builder,
		Guard:    g,
		Engine:   engine,
	}, nil
}

// newEmbedder picks the embedding runtime. "auto" tries ONNX and falls back to
// the deterministic mock so the service still comes up on machines without the
// model or the runtime library.
func newEmbedder(cfg *config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, error) {
	switch cfg.Runtime {
	case "onnx":
		return embedding.NewONNXEmbedder(cfg, logger)
	case "mock":
		return embedding.NewMockEmbedder(cfg.Dimensions), nil
	default:
		onnx, err := embedding.NewONNXEmbedder(cfg, logger)
		if err != nil {
			logger.Warn("ONNX embedder unavailable, using mock", zap.Error(err))
			return embedding.NewMockEmbedder(cfg.Dimensions), nil
		}
		return onnx, nil
	}
}

func printUsage() {
	fmt.Println(`miwake - visual similarity search for image catalogs

Usage:
  miwake server [flags]            Start the HTTP server
  miwake search [flags]            Find catalog items similar to an image
  miwake rebuild [flags]           Build a fresh catalog snapshot
  miwake status [flags]            Show serving snapshot status
  miwake version                   Show version
  miwake help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/miwake/config.yaml)
  --debug            Enable debug logging (catalog changes, rebuild batches, etc.)

Search Flags:
  --config string      Config file path (direct mode)
  --server string      Server URL (default: http://localhost:8080). Use --server "" to search the snapshot on disk directly.
  --image string       Path to the query image file
  --url string         URL of the query image (fetched by the server)
  --k int              Number of results (0 = configured default)
  --threshold float    Minimum similarity in [-1, 1]
  --format string      Output format: text, compact, or json (default: text)

Rebuild Flags:
  --config string    Config file path (direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to build without a server.
  --source string    Catalog source: local directory or s3://bucket/prefix (default from config)
  --wait             Wait for the rebuild to finish (default: true)

Status Flags:
  --config string    Config file path (direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to read the snapshot on disk directly.
  --format string    Output format: text or json (default: text)

Examples:
  miwake server
  miwake search -image ./query.jpg
  miwake search -url https://shop.example.com/shoe.jpg -k 5 -format json
  miwake rebuild -source ./catalog
  miwake status
  miwake status -format json`)
}
