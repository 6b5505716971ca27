// Package watcher triggers catalog rebuilds when a local source directory changes.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/miwake/internal/indexer"
	"github.com/hyperjump/miwake/internal/snapshot"
	"github.com/hyperjump/miwake/internal/source"
)

const defaultDebounce = 2 * time.Second

// Rebuilder runs one catalog rebuild. *indexer.Builder satisfies it.
type Rebuilder interface {
	Rebuild(ctx context.Context, src source.Source) (*snapshot.Manifest, error)
}

// Watcher watches a local catalog tree and rebuilds the snapshot after changes
// settle. Events coalesce: however many files land in one burst, a single
// quiet debounce interval ends in a single rebuild.
type Watcher struct {
	root       string
	extensions []string
	builder    Rebuilder
	debounce   time.Duration
	logger     *zap.Logger

	watcher  *fsnotify.Watcher
	kick     chan struct{}
	done     chan struct{}
	mu       sync.Mutex
	timer    *time.Timer
	started  bool
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher creates a watcher over root. Only files matching extensions
// count as catalog changes (empty matches all); debounce <= 0 falls back to
// the default.
func NewWatcher(root string, extensions []string, builder Rebuilder, debounce time.Duration, opts ...Option) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	w := &Watcher{
		root:       root,
		extensions: extensions,
		builder:    builder,
		debounce:   debounce,
		logger:     zap.NewNop(),
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	if _, err := os.Stat(w.root); os.IsNotExist(err) {
		if err := os.MkdirAll(w.root, 0755); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	if err := w.watchTreeLocked(w.root); err != nil {
		_ = watcher.Close()
		w.watcher = nil
		w.mu.Unlock()
		return err
	}
	w.started = true
	w.mu.Unlock()

	w.logger.Info("watching catalog source",
		zap.String("root", w.root),
		zap.Duration("debounce", w.debounce))
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watch error", zap.Error(err))
			}
		case <-w.kick:
			w.rebuild(ctx)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			// A directory moved in may already hold images; watch it and
			// rebuild once things settle.
			w.watchTree(path)
			w.schedule()
			return
		}
		if w.matchExtension(path) {
			w.schedule()
		}
	case ev.Op&fsnotify.Write != 0:
		if w.matchExtension(path) {
			w.schedule()
		}
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// The path is gone, so a directory cannot be told from a file by
		// stat. Extensionless names are treated as directories.
		if w.matchExtension(path) || filepath.Ext(path) == "" {
			w.schedule()
		}
	}
}

// schedule arms the debounce timer, replacing any pending one.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *Watcher) rebuild(ctx context.Context) {
	src, err := source.NewLocalSource(w.root, w.extensions)
	if err != nil {
		w.logger.Error("auto rebuild: open source", zap.Error(err))
		return
	}
	start := time.Now()
	manifest, err := w.builder.Rebuild(ctx, src)
	switch {
	case errors.Is(err, indexer.ErrRebuildInProgress):
		// Another rebuild is running and may not see our changes; try again
		// after the next quiet interval.
		w.logger.Info("rebuild already running, will retry")
		w.schedule()
	case err != nil:
		w.logger.Error("auto rebuild failed", zap.Error(err))
	default:
		w.logger.Info("auto rebuild complete",
			zap.String("version", manifest.Version),
			zap.Int("items", manifest.ItemCount),
			zap.Duration("took", time.Since(start)))
	}
}

func (w *Watcher) watchTree(root string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return
	}
	if err := w.watchTreeLocked(root); err != nil {
		w.logger.Warn("failed to watch directory", zap.String("path", root), zap.Error(err))
	}
}

func (w *Watcher) watchTreeLocked(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) matchExtension(path string) bool {
	return matchExtension(path, w.extensions)
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return false
	}
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
