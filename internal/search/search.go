// Package search answers natural-language queries against the knowledge base.
package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nickcecere/projectkb/internal/config"
	"github.com/nickcecere/projectkb/internal/embeddings"
	"github.com/nickcecere/projectkb/internal/metrics"
	"github.com/nickcecere/projectkb/internal/store"
)

// ErrEmptyQuery is returned for a query that is empty after trimming.
var ErrEmptyQuery = errors.New("query cannot be empty")

// KnowledgeBase supplies the records to search, building them on demand.
type KnowledgeBase interface {
	GetOrBuild(ctx context.Context, root string) (*store.KbData, error)
}

// Result represents a search result with context.
type Result struct {
	ID        string  `json:"id"`
	FilePath  string  `json:"filePath"`
	RelPath   string  `json:"relPath"`
	StartLine int     `json:"startLine"`
	EndLine   int     `json:"endLine"`
	Language  string  `json:"language"`
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
	Model     string  `json:"model,omitempty"`

	// Context (optional, filled in when Options.ContextLines > 0)
	ContextBefore string `json:"contextBefore,omitempty"`
	ContextAfter  string `json:"contextAfter,omitempty"`
}

// Options configures the search.
type Options struct {
	// TopK is the maximum number of results to return. Zero or less uses
	// the configured default; values above the configured cap are clamped.
	TopK int

	// MinScore filters results below this similarity score.
	MinScore float64

	// Store searches this knowledge base instead of the persisted one.
	Store *store.KbData

	// ContextLines is the number of lines of context to include.
	ContextLines int
}

// Searcher embeds queries and ranks knowledge base records against them.
type Searcher struct {
	kb       KnowledgeBase
	embedder embeddings.Service
	cfg      config.SearchConfig
	root     string
	queries  *lru.Cache[string, embeddings.Vector]
}

// New creates a Searcher over the knowledge base for root.
func New(kb KnowledgeBase, emb embeddings.Service, cfg *config.Config, root string) (*Searcher, error) {
	s := &Searcher{
		kb:       kb,
		embedder: emb,
		cfg:      cfg.Search,
		root:     root,
	}

	if size := cfg.Search.QueryCacheSize; size > 0 {
		queries, err := lru.New[string, embeddings.Vector](size)
		if err != nil {
			return nil, fmt.Errorf("failed to create query cache: %w", err)
		}
		s.queries = queries
	}

	return s, nil
}

// ClampTopK applies the configured default and cap to k.
func (s *Searcher) ClampTopK(k int) int {
	if k <= 0 {
		k = s.cfg.DefaultTopK
	}
	if s.cfg.MaxTopK > 0 && k > s.cfg.MaxTopK {
		k = s.cfg.MaxTopK
	}
	return k
}

// Search performs a semantic search with the given query.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	start := time.Now()
	results, err := s.search(ctx, query, opts)

	result := "ok"
	switch {
	case errors.Is(err, ErrEmptyQuery):
		result = "invalid"
	case err != nil:
		result = "error"
	}
	metrics.Searches.WithLabelValues(result).Inc()
	metrics.SearchDuration.Observe(time.Since(start).Seconds())

	return results, err
}

func (s *Searcher) search(ctx context.Context, query string, opts Options) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	topK := s.ClampTopK(opts.TopK)

	kb := opts.Store
	if kb == nil {
		var err error
		if kb, err = s.kb.GetOrBuild(ctx, s.root); err != nil {
			return nil, fmt.Errorf("failed to load knowledge base: %w", err)
		}
	}

	log.Debug("Generating query embedding", "query", truncate(query, 50))
	vec, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var keep func(*store.Record) bool
	excluded := 0
	if s.cfg.MatchModel && vec.Model != "" {
		keep = func(r *store.Record) bool {
			if r.Model == "" || r.Model == vec.Model {
				return true
			}
			excluded++
			return false
		}
	}

	ranked := store.Rank(kb.Records, vec.Values, topK, keep)
	if excluded > 0 {
		log.Warn("Skipped records embedded by a different model",
			"skipped", excluded, "query_model", vec.Model)
	}

	results := make([]Result, 0, len(ranked))
	for _, r := range ranked {
		if r.Score < opts.MinScore {
			continue
		}

		result := Result{
			ID:        r.Record.ID,
			FilePath:  r.Record.FilePath,
			RelPath:   r.Record.RelPath,
			StartLine: r.Record.StartLine,
			EndLine:   r.Record.EndLine,
			Language:  r.Record.Language,
			Content:   r.Record.Content,
			Score:     r.Score,
			Model:     r.Record.Model,
		}

		if opts.ContextLines > 0 {
			result.ContextBefore, result.ContextAfter = getContext(r.Record.FilePath, r.Record.StartLine, r.Record.EndLine, opts.ContextLines)
		}

		results = append(results, result)
	}

	log.Debug("Search complete", "results", len(results), "records", len(kb.Records))
	return results, nil
}

// embedQuery embeds query, memoising vectors from the primary backend.
func (s *Searcher) embedQuery(ctx context.Context, query string) (embeddings.Vector, error) {
	tag := embeddings.ServiceTag(s.embedder)
	key := tag + "\x00" + query

	if s.queries != nil {
		if v, ok := s.queries.Get(key); ok {
			return v, nil
		}
	}

	v, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return embeddings.Vector{}, err
	}
	// Fallback vectors are not cached so a recovered primary is used again.
	if s.queries != nil && v.Model == tag {
		s.queries.Add(key, v)
	}
	return v, nil
}

// getContext reads additional context lines from the file.
func getContext(filePath string, startLine, endLine, contextLines int) (before, after string) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return "", ""
	}

	lines := strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")

	beforeStart := max(startLine-contextLines-1, 0)
	beforeEnd := startLine - 1
	if beforeEnd > 0 && beforeEnd <= len(lines) {
		before = strings.Join(lines[beforeStart:beforeEnd], "\n")
	}

	afterStart := endLine
	if afterStart < len(lines) {
		afterEnd := min(afterStart+contextLines, len(lines))
		after = strings.Join(lines[afterStart:afterEnd], "\n")
	}

	return before, after
}

// Preview returns the first n characters of content.
func Preview(content string, n int) string {
	if n <= 0 {
		return content
	}
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return string(runes[:n])
}

// truncate shortens a string for display.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
