package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nickcecere/projectkb/internal/config"
	"github.com/nickcecere/projectkb/internal/embeddings"
	"github.com/nickcecere/projectkb/internal/indexer"
	"github.com/nickcecere/projectkb/internal/search"
	"github.com/nickcecere/projectkb/internal/store"
)

// app wires the store, embedder, indexer and searcher for one project root.
type app struct {
	cfg      *config.Config
	root     string
	store    store.Store
	embedder embeddings.Service
	indexer  *indexer.Indexer
	searcher *search.Searcher
}

func newApp(cfg *config.Config, root string) (*app, error) {
	if root == "" {
		root = cfg.Indexing.Root
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	emb, err := embeddings.NewService(cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create embedding service: %w", err)
	}

	idx := indexer.New(st, emb, cfg)
	searcher, err := search.New(idx, emb, cfg, absRoot)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		root:     absRoot,
		store:    st,
		embedder: emb,
		indexer:  idx,
		searcher: searcher,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// describeEmbedder returns a short description such as
// "ollama:nomic-embed-text (fallback local:feature-hash-v1)".
func describeEmbedder(emb embeddings.Service) string {
	if f, ok := emb.(*embeddings.FallbackService); ok {
		return fmt.Sprintf("%s (fallback %s)", embeddings.ServiceTag(f.Primary()), embeddings.ServiceTag(f.Secondary()))
	}
	return embeddings.ServiceTag(emb)
}

// interruptContext returns a context cancelled on SIGINT or SIGTERM. msg is
// printed when the signal arrives.
func interruptContext(msg string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			if msg != "" {
				fmt.Fprintln(os.Stderr, "\n"+msg)
			}
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// cancelled reports whether err comes from an interrupted context.
func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, context.Canceled)
}
