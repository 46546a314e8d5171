// File: internal/watcher/watcher.go
// Package watcher re-analyzes ML source files as they change on disk.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/duns-scotus/mlpy-sub002/internal/config"
)

// Invalidator drops cached analysis results. The parallel coordinator satisfies it.
type Invalidator interface {
	ClearCache()
}

// AnalyzeFunc analyzes the file at path.
type AnalyzeFunc func(ctx context.Context, path string) error

// Watcher watches one directory and re-analyzes matching files after they settle.
type Watcher struct {
	fs       *fsnotify.Watcher
	cache    Invalidator
	analyze  AnalyzeFunc
	logger   *zap.Logger
	debounce time.Duration
	exts     map[string]bool
	limiter  *rate.Limiter

	closeOnce sync.Once
	closeErr  error
}

// New creates a watcher. cache may be nil.
func New(cfg config.WatchConfig, cache Invalidator, analyze AnalyzeFunc, logger *zap.Logger) (*Watcher, error) {
	if analyze == nil {
		return nil, errors.New("watcher requires an analyze function")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	w := &Watcher{
		fs:       fsWatcher,
		cache:    cache,
		analyze:  analyze,
		logger:   logger.Named("watcher"),
		debounce: cfg.Debounce,
		exts:     make(map[string]bool, len(cfg.Extensions)),
		limiter:  rate.NewLimiter(limit, 1),
	}
	for _, ext := range cfg.Extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		w.exts[strings.ToLower(ext)] = true
	}
	return w, nil
}

// Run watches dir until ctx is done. It always releases the underlying watcher
// before returning.
func (w *Watcher) Run(ctx context.Context, dir string) error {
	defer w.Close()

	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.logger.Info("Watching directory", zap.String("dir", dir), zap.Duration("debounce", w.debounce))

	pending := make(map[string]struct{})
	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("Source changed", zap.String("file", filepath.Base(event.Name)), zap.Stringer("op", event.Op))
			pending[event.Name] = struct{}{}
			if w.debounce <= 0 {
				w.flush(ctx, pending)
				continue
			}
			stopTimer(timer)
			timer.Reset(w.debounce)

		case <-timer.C:
			w.flush(ctx, pending)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

// Close releases the underlying watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.fs.Close()
	})
	return w.closeErr
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	return w.exts[strings.ToLower(filepath.Ext(event.Name))]
}

// flush re-analyzes every pending file in name order and empties the set.
func (w *Watcher) flush(ctx context.Context, pending map[string]struct{}) {
	if len(pending) == 0 {
		return
	}
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
		delete(pending, p)
	}
	sort.Strings(paths)

	// Results for the old contents must not be served after a reload.
	if w.cache != nil {
		w.cache.ClearCache()
	}
	for _, path := range paths {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		if err := w.analyze(ctx, path); err != nil {
			w.logger.Error("Re-analysis failed", zap.String("file", path), zap.Error(err))
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
