// Package watcher rebuilds the knowledge base when project files change.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/nickcecere/projectkb/internal/config"
	"github.com/nickcecere/projectkb/internal/fs"
	"github.com/nickcecere/projectkb/internal/indexer"
	"github.com/nickcecere/projectkb/internal/store"
)

// Builder rebuilds the knowledge base for a root.
type Builder interface {
	Build(ctx context.Context, root string) (*store.KbData, *indexer.Stats, error)
}

// Watcher watches for file changes and triggers rebuilds.
type Watcher struct {
	root    string
	dataDir string
	builder Builder
	walker  *fs.FileWalker
	filter  *fs.Filter

	debounceTime time.Duration

	// callback after every rebuild attempt
	onRebuild func(stats *indexer.Stats, err error)
}

// Option configures the watcher.
type Option func(*Watcher)

// WithDebounceTime sets how long the tree must stay quiet before a rebuild.
func WithDebounceTime(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounceTime = d
	}
}

// WithRebuildCallback sets a callback invoked after each rebuild attempt.
func WithRebuildCallback(fn func(stats *indexer.Stats, err error)) Option {
	return func(w *Watcher) {
		w.onRebuild = fn
	}
}

// New creates a watcher for root that rebuilds through b.
func New(root string, b Builder, cfg *config.Config, opts ...Option) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	dataDir, err := filepath.Abs(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}

	walkOpts := indexer.WalkOptions(cfg, absRoot)
	walker, err := fs.NewFileWalker(walkOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create file walker: %w", err)
	}

	w := &Watcher{
		root:         absRoot,
		dataDir:      dataDir,
		builder:      b,
		walker:       walker,
		filter:       walkOpts.Filter,
		debounceTime: cfg.Watch.Debounce,
		onRebuild:    func(*indexer.Stats, error) {}, // noop default
	}

	for _, opt := range opts {
		opt(w)
	}
	if w.debounceTime <= 0 {
		w.debounceTime = config.DefaultDebounce
	}

	return w, nil
}

// Start begins watching for file changes. Blocks until context is cancelled.
// Events are coalesced: a rebuild starts once the tree has been quiet for the
// debounce time, and changes seen during a rebuild schedule one more.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := w.addDirectories(watcher, w.root); err != nil {
		return err
	}

	log.Info("Watching for file changes", "root", w.root, "debounce", w.debounceTime)

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		running bool
		dirty   bool
		done    = make(chan error, 1)
	)
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounceTime)
		} else {
			timer.Reset(w.debounceTime)
		}
		fire = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if running {
				<-done
			}
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(event, watcher) {
				schedule()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("Watcher error", "error", err)

		case <-fire:
			fire = nil
			if running {
				dirty = true
				continue
			}
			running = true
			go func() { done <- w.rebuild(ctx) }()

		case err := <-done:
			running = false
			if dirty || errors.Is(err, indexer.ErrBuildInProgress) {
				dirty = false
				schedule()
			}
		}
	}
}

func (w *Watcher) rebuild(ctx context.Context) error {
	log.Info("Changes detected, rebuilding knowledge base")
	_, stats, err := w.builder.Build(ctx, w.root)
	switch {
	case errors.Is(err, indexer.ErrBuildInProgress):
		log.Info("Another build is running, retrying after it finishes")
	case errors.Is(err, context.Canceled):
		log.Debug("Rebuild cancelled")
	case err != nil:
		log.Error("Rebuild failed", "error", err)
	default:
		log.Info("Rebuild complete", "records", stats.Records, "embedded", stats.ChunksEmbedded, "duration", stats.Duration.Round(time.Millisecond))
	}
	w.onRebuild(stats, err)
	return err
}

// addDirectories recursively adds every directory a build would enter.
func (w *Watcher) addDirectories(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}

		if !d.IsDir() {
			return nil
		}

		if w.ignored(path, true) {
			return filepath.SkipDir
		}

		if err := watcher.Add(path); err != nil {
			log.Debug("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// handleEvent processes a single file system event and reports whether it
// should trigger a rebuild.
func (w *Watcher) handleEvent(event fsnotify.Event, watcher *fsnotify.Watcher) bool {
	path := event.Name

	if event.Op == fsnotify.Chmod {
		return false
	}

	// Removed or renamed paths can no longer be inspected.
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		return !w.ignored(path, false) && !fs.IsBinaryExtension(path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	// For new directories, add to watcher
	if info.IsDir() {
		if !event.Has(fsnotify.Create) || w.ignored(path, true) {
			return false
		}
		if err := w.addDirectories(watcher, path); err != nil {
			log.Debug("Failed to watch new directory", "path", path, "error", err)
		}
		log.Debug("Added directory to watch", "path", w.rel(path))
		return true
	}

	return !w.ignored(path, false) && w.filter.Eligible(path, info.Size())
}

// ignored reports whether path lies outside what a build indexes.
func (w *Watcher) ignored(path string, isDir bool) bool {
	if path == w.dataDir || strings.HasPrefix(path, w.dataDir+string(filepath.Separator)) {
		return true
	}
	rel := w.rel(path)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return true
	}
	return w.walker.Excluded(rel, isDir)
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return rel
}
