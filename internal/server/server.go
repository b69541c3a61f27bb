// Package server exposes the knowledge base over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nickcecere/projectkb/internal/config"
	"github.com/nickcecere/projectkb/internal/indexer"
	"github.com/nickcecere/projectkb/internal/metrics"
	"github.com/nickcecere/projectkb/internal/search"
	"github.com/nickcecere/projectkb/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Searcher answers queries.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// Builder rebuilds and loads the knowledge base.
type Builder interface {
	Build(ctx context.Context, root string) (*store.KbData, *indexer.Stats, error)
	Building() bool
	Load(ctx context.Context) (*store.KbData, error)
}

// Server serves the query, rebuild and status endpoints.
type Server struct {
	echo     *echo.Echo
	searcher Searcher
	builder  Builder
	root     string
	cfg      *config.Config

	// builds run on this context so they outlive the request that started them.
	buildCtx    context.Context
	cancelBuild context.CancelFunc
	wg          sync.WaitGroup
}

// SearchHit is one entry of a search response.
type SearchHit struct {
	Score     float64 `json:"score"`
	ID        string  `json:"id"`
	FilePath  string  `json:"filePath"`
	RelPath   string  `json:"relPath"`
	StartLine int     `json:"startLine"`
	EndLine   int     `json:"endLine"`
	Language  string  `json:"language"`
	Content   string  `json:"content"`
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	OK      bool        `json:"ok"`
	Results []SearchHit `json:"results"`
}

// StatusResponse describes the persisted knowledge base.
type StatusResponse struct {
	OK        bool      `json:"ok"`
	Exists    bool      `json:"exists"`
	Records   int       `json:"records"`
	Files     int       `json:"files"`
	Version   int       `json:"version,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
	BuildID   string    `json:"buildId,omitempty"`
	Building  bool      `json:"building"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// New creates a server for the knowledge base rooted at root.
func New(s Searcher, b Builder, root string, cfg *config.Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("HTTP request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.HTTPErrorHandler = errorHandler

	buildCtx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		echo:        e,
		searcher:    s,
		builder:     b,
		root:        root,
		cfg:         cfg,
		buildCtx:    buildCtx,
		cancelBuild: cancel,
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	kb := e.Group("/api/devtools/kb")
	kb.GET("/search", srv.handleSearch)
	kb.POST("/rebuild", srv.handleRebuild)
	kb.GET("/status", srv.handleStatus)

	return srv
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully and
// waits for background builds to stop.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", addr)
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		s.stopBuilds()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.echo.Shutdown(shutdownCtx)
	s.stopBuilds()
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) stopBuilds() {
	s.cancelBuild()
	s.wg.Wait()
}

func (s *Server) handleSearch(c echo.Context) error {
	query := c.QueryParam("query")

	// A malformed topK falls back to the default.
	topK, err := strconv.Atoi(c.QueryParam("topK"))
	if err != nil {
		topK = 0
	}

	results, err := s.searcher.Search(c.Request().Context(), query, search.Options{TopK: topK})
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		log.Error("Search failed", "query", query, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SearchHit{
			Score:     r.Score,
			ID:        r.ID,
			FilePath:  r.FilePath,
			RelPath:   r.RelPath,
			StartLine: r.StartLine,
			EndLine:   r.EndLine,
			Language:  r.Language,
			Content:   search.Preview(r.Content, s.cfg.Search.PreviewLength),
		})
	}

	return c.JSON(http.StatusOK, SearchResponse{OK: true, Results: hits})
}

func (s *Server) handleRebuild(c echo.Context) error {
	if s.builder.Building() {
		return echo.NewHTTPError(http.StatusConflict, indexer.ErrBuildInProgress.Error())
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, stats, err := s.builder.Build(s.buildCtx, s.root)
		switch {
		case errors.Is(err, indexer.ErrBuildInProgress):
			log.Warn("Rebuild skipped", "reason", err)
		case err != nil:
			log.Error("Background rebuild failed", "error", err)
		default:
			log.Info("Background rebuild finished", "records", stats.Records, "duration", stats.Duration)
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]bool{"ok": true})
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := StatusResponse{OK: true, Building: s.builder.Building()}

	kb, err := s.builder.Load(c.Request().Context())
	if err != nil && !errors.Is(err, store.ErrCorrupt) {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
	if kb != nil {
		resp.Exists = true
		resp.Records = len(kb.Records)
		resp.Files = kb.Files()
		resp.Version = kb.Version
		resp.CreatedAt = kb.CreatedAt
		resp.UpdatedAt = kb.UpdatedAt
		resp.BuildID = kb.BuildID
	}

	return c.JSON(http.StatusOK, resp)
}

// errorHandler renders every error as {"ok":false,"error":...}.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	if err := c.JSON(code, errorResponse{OK: false, Error: msg}); err != nil {
		log.Error("Failed to write error response", "error", err)
	}
}
