// Package indexer builds the knowledge base: it walks a project, chunks every
// eligible file, embeds the chunks that the cache cannot supply, and persists
// the result.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/nickcecere/projectkb/internal/cache"
	"github.com/nickcecere/projectkb/internal/config"
	"github.com/nickcecere/projectkb/internal/embeddings"
	"github.com/nickcecere/projectkb/internal/fs"
	"github.com/nickcecere/projectkb/internal/metrics"
	"github.com/nickcecere/projectkb/internal/store"
)

// ErrBuildInProgress is returned when a build is requested while another one
// is running in this process.
var ErrBuildInProgress = errors.New("a knowledge base build is already in progress")

// Phase names a stage of a build.
type Phase string

const (
	PhaseScan  Phase = "scan"
	PhaseEmbed Phase = "embed"
	PhaseSave  Phase = "save"
)

// Progress reports how far a build has come.
type Progress struct {
	Phase   Phase
	Current int
	Total   int
	File    string
}

// ProgressFunc is called to report progress during a build. It may be called
// from several goroutines at once.
type ProgressFunc func(Progress)

// Stats summarises one build.
type Stats struct {
	FilesScanned   int           `json:"filesScanned"`
	FilesCached    int           `json:"filesCached"`
	FilesEmbedded  int           `json:"filesEmbedded"`
	FilesSkipped   int           `json:"filesSkipped"`
	ChunksEmbedded int           `json:"chunksEmbedded"`
	ChunksCached   int           `json:"chunksCached"`
	ChunksBlank    int           `json:"chunksBlank"`
	ChunksFailed   int           `json:"chunksFailed"`
	ChunksPending  int           `json:"chunksPending,omitempty"` // dry runs only
	Records        int           `json:"records"`
	Duration       time.Duration `json:"duration"`
}

// Indexer orchestrates building the knowledge base.
type Indexer struct {
	store    store.Store
	embedder embeddings.Service
	chunker  *fs.LineChunker
	cfg      *config.Config

	lock       buildLock
	onProgress ProgressFunc

	mu        sync.Mutex
	lastStats *Stats
	lastErr   error
}

// New creates a new Indexer.
func New(st store.Store, emb embeddings.Service, cfg *config.Config) *Indexer {
	return &Indexer{
		store:    st,
		embedder: emb,
		chunker:  fs.NewLineChunker(cfg.Indexing.ChunkLines),
		cfg:      cfg,
	}
}

// OnProgress installs a progress callback for subsequent builds.
func (idx *Indexer) OnProgress(fn ProgressFunc) {
	idx.onProgress = fn
}

// Building reports whether a build is running.
func (idx *Indexer) Building() bool {
	return idx.lock.Held()
}

// LastBuild returns the stats and error of the most recent finished build.
func (idx *Indexer) LastBuild() (*Stats, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.lastStats, idx.lastErr
}

// Store returns the store the indexer persists into.
func (idx *Indexer) Store() store.Store {
	return idx.store
}

// Load returns the persisted knowledge base, or nil if none exists.
func (idx *Indexer) Load(ctx context.Context) (*store.KbData, error) {
	return idx.store.Load(ctx)
}

// GetOrBuild returns the persisted knowledge base, building it first when it
// is missing or unreadable.
func (idx *Indexer) GetOrBuild(ctx context.Context, root string) (*store.KbData, error) {
	kb, err := idx.store.Load(ctx)
	switch {
	case errors.Is(err, store.ErrCorrupt):
		log.Warn("Knowledge base is corrupt, rebuilding", "path", idx.store.Path(), "error", err)
	case err != nil:
		return nil, err
	case kb != nil:
		return kb, nil
	default:
		log.Info("No knowledge base found, building", "root", root)
	}

	kb, _, err = idx.Build(ctx, root)
	return kb, err
}

// fileUnit is the per-file state of a build. Vectors and errs are aligned
// with chunks.
type fileUnit struct {
	file    fs.FileInfo
	hash    string
	chunks  []fs.Chunk
	vectors []embeddings.Vector
	errs    []error
	cached  bool
	skipped bool
}

// Build indexes root and replaces the persisted knowledge base. Nothing is
// written unless the whole build succeeds.
func (idx *Indexer) Build(ctx context.Context, root string) (*store.KbData, *Stats, error) {
	if !idx.lock.TryAcquire() {
		return nil, nil, ErrBuildInProgress
	}
	defer idx.lock.Release()

	start := time.Now()
	kb, stats, err := idx.build(ctx, root)
	if stats != nil {
		stats.Duration = time.Since(start)
	}

	result := "ok"
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		result = "cancelled"
	case err != nil:
		result = "error"
	}
	metrics.Builds.WithLabelValues(result).Inc()
	metrics.BuildDuration.Observe(time.Since(start).Seconds())

	idx.mu.Lock()
	idx.lastStats, idx.lastErr = stats, err
	idx.mu.Unlock()

	if err != nil {
		return nil, stats, err
	}

	metrics.Records.Set(float64(len(kb.Records)))
	log.Info("Build complete",
		"files", stats.FilesScanned,
		"embedded", stats.FilesEmbedded,
		"cached", stats.FilesCached,
		"records", stats.Records,
		"failed", stats.ChunksFailed,
		"duration", stats.Duration.Round(time.Millisecond),
	)
	return kb, stats, nil
}

func (idx *Indexer) build(ctx context.Context, root string) (*store.KbData, *Stats, error) {
	stats := &Stats{}

	units, err := idx.scan(ctx, root)
	if err != nil {
		return nil, stats, err
	}
	absRoot, _ := filepath.Abs(root)
	stats.FilesScanned = len(units)

	prevCache, err := cache.Load(idx.cfg.CachePath())
	if err != nil {
		return nil, stats, err
	}

	if err := idx.prepare(ctx, units, prevCache, stats); err != nil {
		return nil, stats, err
	}
	if err := idx.embed(ctx, units, stats); err != nil {
		return nil, stats, err
	}

	// Assemble the new cache and records in file order.
	nextCache := make(cache.Map, len(units))
	var records []store.Record
	var firstErr error
	for i := range units {
		u := &units[i]
		if u.skipped {
			continue
		}

		complete := true
		for j, chunk := range u.chunks {
			if err := u.errs[j]; err != nil {
				complete = false
				if firstErr == nil {
					firstErr = fmt.Errorf("failed to embed %s:%d-%d: %w", chunk.RelPath, chunk.StartLine, chunk.EndLine, err)
				}
				continue
			}
			v := u.vectors[j]
			if v.IsEmpty() {
				continue
			}
			records = append(records, store.Record{
				ID:        store.RecordID(chunk.RelPath, chunk.StartLine, chunk.EndLine),
				FilePath:  chunk.FilePath,
				RelPath:   chunk.RelPath,
				StartLine: chunk.StartLine,
				EndLine:   chunk.EndLine,
				Content:   chunk.Content,
				Language:  chunk.Language,
				Embedding: v.Values,
				Model:     v.Model,
			})
		}

		// A file with a failed chunk is left out of the cache so the next
		// build retries it.
		if complete {
			nextCache[u.file.Path] = cache.Entry{Hash: u.hash, Embeddings: u.vectors}
		}
	}

	if firstErr != nil && idx.cfg.Indexing.Strict {
		return nil, stats, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	idx.report(Progress{Phase: PhaseSave, Current: 0, Total: 1})

	prev, err := idx.store.Load(ctx)
	if err != nil {
		// Only the creation time is taken from the previous store.
		log.Debug("Previous knowledge base unavailable", "error", err)
		prev = nil
	}
	kb := store.NewKbData(absRoot, prev)
	if records != nil {
		kb.Records = records
	}

	// The cache never runs ahead of the store.
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}
	if err := idx.store.Save(ctx, kb); err != nil {
		return nil, stats, fmt.Errorf("failed to save knowledge base: %w", err)
	}
	if err := cache.Save(idx.cfg.CachePath(), nextCache); err != nil {
		return nil, stats, err
	}
	stats.Records = len(kb.Records)

	idx.report(Progress{Phase: PhaseSave, Current: 1, Total: 1})
	return kb, stats, nil
}

// Plan reports what Build would do for root without embedding or writing
// anything. ChunksPending counts the chunks that would need a backend call.
func (idx *Indexer) Plan(ctx context.Context, root string) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}

	units, err := idx.scan(ctx, root)
	if err != nil {
		return nil, err
	}
	stats.FilesScanned = len(units)

	prevCache, err := cache.Load(idx.cfg.CachePath())
	if err != nil {
		return nil, err
	}
	if err := idx.prepare(ctx, units, prevCache, stats); err != nil {
		return nil, err
	}

	for i := range units {
		u := &units[i]
		if u.skipped || u.cached {
			continue
		}
		for _, c := range u.chunks {
			if embeddings.IsBlank(c.Content) {
				stats.ChunksBlank++
				continue
			}
			stats.ChunksPending++
		}
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// WalkOptions returns the walk configuration a build of root uses. The data
// directory is always pruned.
func WalkOptions(cfg *config.Config, root string) fs.WalkOptions {
	ic := cfg.Indexing
	return fs.WalkOptions{
		Root:           root,
		Filter:         fs.NewFilter(ic.MaxFileSize, ic.Extensions),
		IgnoreDirs:     []string{filepath.Base(cfg.Storage.DataDir)},
		IgnorePatterns: ic.Ignore,
		IncludeHidden:  ic.IncludeHidden,
		UseGitignore:   ic.UseGitignore,
		FollowSymlinks: ic.FollowSymlinks,
	}
}

// scan walks root and returns one unit per eligible file, in walk order.
func (idx *Indexer) scan(ctx context.Context, root string) ([]fileUnit, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", absRoot)
	}

	walker, err := fs.NewFileWalker(WalkOptions(idx.cfg, absRoot))
	if err != nil {
		return nil, fmt.Errorf("failed to create file walker: %w", err)
	}

	var units []fileUnit
	err = walker.Walk(ctx, func(fi fs.FileInfo) error {
		units = append(units, fileUnit{file: fi})
		idx.report(Progress{Phase: PhaseScan, Current: len(units), File: fi.RelPath})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	log.Info("Found files to index", "count", len(units), "root", absRoot)
	return units, nil
}

// prepare reads, hashes and chunks every file with a bounded worker pool and
// fills in cached embeddings where the cache entry is still valid.
func (idx *Indexer) prepare(ctx context.Context, units []fileUnit, prev cache.Map, stats *Stats) error {
	tag := embeddings.ServiceTag(idx.embedder)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers())
	for i := range units {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			u := &units[i]

			content, err := fs.ReadText(u.file.Path)
			if err != nil {
				log.Warn("Skipping file", "path", u.file.RelPath, "error", err)
				u.skipped = true
				return nil
			}

			u.hash = fs.HashContent(content)
			u.chunks = idx.chunker.Chunk(string(content), u.file.Path, u.file.RelPath)
			u.vectors = make([]embeddings.Vector, len(u.chunks))
			u.errs = make([]error, len(u.chunks))

			if entry, ok := prev.Lookup(u.file.Path, u.hash, len(u.chunks)); ok && sameModel(entry, tag) {
				copy(u.vectors, entry.Embeddings)
				u.cached = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for i := range units {
		u := &units[i]
		switch {
		case u.skipped:
			stats.FilesSkipped++
		case u.cached:
			stats.FilesCached++
			stats.ChunksCached += len(u.chunks)
			metrics.CacheFiles.WithLabelValues("hit").Inc()
		default:
			stats.FilesEmbedded++
			metrics.CacheFiles.WithLabelValues("miss").Inc()
		}
	}
	return nil
}

// sameModel reports whether every cached vector was produced by the model
// tagged tag. Untagged vectors are accepted.
func sameModel(entry cache.Entry, tag string) bool {
	for _, v := range entry.Embeddings {
		if v.Model != "" && v.Model != tag {
			return false
		}
	}
	return true
}

// embed computes the embeddings the cache could not supply. Chunks from all
// files share one worker pool; per-chunk failures are recorded in their slot.
func (idx *Indexer) embed(ctx context.Context, units []fileUnit, stats *Stats) error {
	type slot struct{ unit, chunk int }
	var slots []slot
	var texts []string
	for i := range units {
		u := &units[i]
		if u.skipped || u.cached {
			continue
		}
		for j, c := range u.chunks {
			if embeddings.IsBlank(c.Content) {
				stats.ChunksBlank++
				continue
			}
			slots = append(slots, slot{i, j})
			texts = append(texts, c.Content)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	log.Info("Embedding chunks", "chunks", len(texts), "provider", embeddings.ServiceTag(idx.embedder))

	var done atomic.Int64
	svc := &progressService{Service: idx.embedder, onDone: func() {
		n := done.Add(1)
		idx.report(Progress{Phase: PhaseEmbed, Current: int(n), Total: len(texts)})
	}}

	vectors, errs := embeddings.EmbedAll(ctx, svc, texts, idx.workers())
	if err := ctx.Err(); err != nil {
		return err
	}

	for k, s := range slots {
		u := &units[s.unit]
		u.vectors[s.chunk], u.errs[s.chunk] = vectors[k], errs[k]
		if errs[k] != nil {
			stats.ChunksFailed++
			log.Warn("Failed to embed chunk",
				"path", u.chunks[s.chunk].RelPath,
				"lines", fmt.Sprintf("%d-%d", u.chunks[s.chunk].StartLine, u.chunks[s.chunk].EndLine),
				"error", errs[k])
			continue
		}
		stats.ChunksEmbedded++
	}
	return nil
}

func (idx *Indexer) workers() int {
	if n := idx.cfg.Indexing.Workers; n > 0 {
		return n
	}
	return config.DefaultWorkers
}

func (idx *Indexer) report(p Progress) {
	if idx.onProgress != nil {
		idx.onProgress(p)
	}
}

// progressService counts finished embedding calls.
type progressService struct {
	embeddings.Service
	onDone func()
}

func (s *progressService) Embed(ctx context.Context, text string) (embeddings.Vector, error) {
	defer s.onDone()
	return s.Service.Embed(ctx, text)
}
