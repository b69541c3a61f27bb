package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nickcecere/projectkb/internal/config"
	"github.com/nickcecere/projectkb/internal/server"
	"github.com/nickcecere/projectkb/internal/ui"
	"github.com/nickcecere/projectkb/internal/watcher"
)

var (
	serveAddr  string
	serveWatch bool
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the knowledge base over HTTP",
	Long: `Start the HTTP query server.

Endpoints:
  GET  /api/devtools/kb/search?query=<text>&topK=<n>
  POST /api/devtools/kb/rebuild
  GET  /api/devtools/kb/status
  GET  /healthz
  GET  /metrics

With --watch the knowledge base is rebuilt whenever project files change.

Examples:
  # Serve on the configured address
  projectkb serve

  # Serve on another port and keep the knowledge base fresh
  projectkb serve --addr :8080 --watch`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "rebuild when files change")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	a, err := newApp(cfg, "")
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := interruptContext("Shutting down...")
	defer cancel()

	fmt.Println(ui.Header.Render("projectkb server"))
	fmt.Printf("Root:     %s\n", a.root)
	fmt.Printf("Embedder: %s\n", describeEmbedder(a.embedder))
	fmt.Printf("Address:  http://%s\n", addr)
	fmt.Println()

	srv := server.New(a.searcher, a.indexer, a.root, cfg)

	var w *watcher.Watcher
	if serveWatch {
		w, err = watcher.New(a.root, a.indexer, cfg)
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx, addr)
	})
	if w != nil {
		g.Go(func() error {
			if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("watcher: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Server stopped")
	return nil
}
