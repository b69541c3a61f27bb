package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/projectkb/internal/config"
	"github.com/nickcecere/projectkb/internal/indexer"
	"github.com/nickcecere/projectkb/internal/ui"
	"github.com/nickcecere/projectkb/internal/watcher"
)

var (
	watchNoInitial bool
)

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Watch for file changes and rebuild",
	Long: `Watch a directory for file changes and rebuild the knowledge base.

This command first builds the knowledge base (unless --no-initial is specified),
then rebuilds it whenever eligible files change. Unchanged files are served from
the embedding cache, so rebuilds only embed what changed.

Examples:
  # Watch the configured root
  projectkb watch

  # Watch a specific directory
  projectkb watch ./docs

  # Skip the initial build (assumes the knowledge base is current)
  projectkb watch --no-initial`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatchCmd,
}

func init() {
	watchCmd.Flags().BoolVar(&watchNoInitial, "no-initial", false, "skip the initial build")
}

func runWatchCmd(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	path := ""
	if len(args) > 0 {
		path = args[0]
	}

	a, err := newApp(cfg, path)
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := os.Stat(a.root)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", a.root)
	}

	ctx, cancel := interruptContext("Shutting down...")
	defer cancel()

	if !watchNoInitial {
		fmt.Println(ui.Header.Render("Initial Build"))
		fmt.Printf("Path:     %s\n", a.root)
		fmt.Printf("Embedder: %s\n\n", describeEmbedder(a.embedder))

		a.indexer.OnProgress(newProgressPrinter().Print)
		_, stats, err := a.indexer.Build(ctx, a.root)
		a.indexer.OnProgress(nil)
		fmt.Printf("\r\033[K")

		if err != nil {
			if cancelled(ctx, err) {
				return nil
			}
			return fmt.Errorf("initial build failed: %w", err)
		}
		fmt.Printf("Initial build complete: %d files, %d records (%d embedded) in %s\n\n",
			stats.FilesScanned, stats.Records, stats.ChunksEmbedded, stats.Duration.Round(time.Millisecond))
	}

	w, err := watcher.New(a.root, a.indexer, cfg,
		watcher.WithRebuildCallback(func(stats *indexer.Stats, err error) {
			if err == nil && stats.ChunksFailed > 0 {
				log.Warn("Some chunks failed to embed", "failed", stats.ChunksFailed)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	fmt.Println(ui.Header.Render("Watching for Changes"))
	fmt.Printf("Directory: %s\n", a.root)
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
