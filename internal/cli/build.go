package cli

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/projectkb/internal/config"
	"github.com/nickcecere/projectkb/internal/indexer"
	"github.com/nickcecere/projectkb/internal/ui"
)

var (
	buildStrict bool
	buildDryRun bool
)

// buildCmd represents the build command
var buildCmd = &cobra.Command{
	Use:   "build [path]",
	Short: "Build the project knowledge base",
	Long: `Build the knowledge base for the specified directory (or the configured root).

This command will:
1. Discover all eligible text files in the directory
2. Split files into fixed line windows
3. Reuse cached embeddings for unchanged files
4. Embed everything else and save the knowledge base

Examples:
  # Build for the current directory
  projectkb build

  # Build a specific directory
  projectkb build ./docs

  # Fail instead of skipping chunks the embedding backend rejects
  projectkb build --strict

  # Preview what would be embedded
  projectkb build --dry-run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().BoolVar(&buildStrict, "strict", false, "abort the build on the first embedding failure")
	buildCmd.Flags().BoolVarP(&buildDryRun, "dry-run", "d", false, "preview without embedding or saving")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if buildStrict {
		cfg.Indexing.Strict = true
	}

	path := ""
	if len(args) > 0 {
		path = args[0]
	}

	a, err := newApp(cfg, path)
	if err != nil {
		return err
	}
	defer a.Close()

	log.Debug("Starting build",
		"path", a.root,
		"strict", cfg.Indexing.Strict,
		"dry-run", buildDryRun,
	)

	ctx, cancel := interruptContext("Interrupted, nothing will be saved...")
	defer cancel()

	if buildDryRun {
		return runDryRun(ctx, a)
	}

	fmt.Println(ui.Header.Render("Building knowledge base"))
	fmt.Printf("Path:     %s\n", a.root)
	fmt.Printf("Store:    %s\n", a.store.Path())
	fmt.Printf("Embedder: %s\n", describeEmbedder(a.embedder))
	fmt.Println()

	a.indexer.OnProgress(newProgressPrinter().Print)

	kb, stats, err := a.indexer.Build(ctx, a.root)

	// Clear progress line
	fmt.Printf("\r\033[K")

	if err != nil {
		if cancelled(ctx, err) {
			fmt.Println(ui.Warning.Render("Build cancelled"))
			return nil
		}
		return fmt.Errorf("build failed: %w", err)
	}

	fmt.Println(ui.Success.Render("Build complete!"))
	fmt.Println()
	fmt.Printf("  Files:    %d (%d cached, %d embedded, %d skipped)\n",
		stats.FilesScanned, stats.FilesCached, stats.FilesEmbedded, stats.FilesSkipped)
	fmt.Printf("  Records:  %d across %d files\n", len(kb.Records), kb.Files())
	fmt.Printf("  Chunks:   %d embedded, %d cached, %d blank\n",
		stats.ChunksEmbedded, stats.ChunksCached, stats.ChunksBlank)
	if stats.ChunksFailed > 0 {
		fmt.Printf("  %s\n", ui.Warning.Render(fmt.Sprintf("Failed:   %d chunks (will be retried next build)", stats.ChunksFailed)))
	}
	fmt.Printf("  Duration: %s\n", stats.Duration.Round(time.Millisecond))

	return nil
}

// runDryRun shows what a build would do without embedding anything.
func runDryRun(ctx context.Context, a *app) error {
	fmt.Println(ui.Header.Render("Dry Run - Preview"))
	fmt.Printf("Path: %s\n\n", a.root)

	stats, err := a.indexer.Plan(ctx, a.root)
	if err != nil {
		return fmt.Errorf("failed to plan build: %w", err)
	}

	fmt.Printf("Files found:      %d\n", stats.FilesScanned)
	fmt.Printf("Files cached:     %d\n", stats.FilesCached)
	fmt.Printf("Files to embed:   %d\n", stats.FilesEmbedded)
	fmt.Printf("Files skipped:    %d\n", stats.FilesSkipped)
	fmt.Println()
	fmt.Printf("Chunks cached:    %d\n", stats.ChunksCached)
	fmt.Printf("Chunks to embed:  %d\n", stats.ChunksPending)
	fmt.Printf("Blank chunks:     %d\n", stats.ChunksBlank)

	return nil
}

// progressPrinter renders build progress on a single terminal line. Updates
// are throttled and safe for concurrent use.
type progressPrinter struct {
	mu         sync.Mutex
	lastUpdate time.Time
	lastPhase  indexer.Phase
}

func newProgressPrinter() *progressPrinter {
	return &progressPrinter{}
}

func (p *progressPrinter) Print(pr indexer.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Throttle updates to every 100ms, but always show a phase change
	if pr.Phase == p.lastPhase && time.Since(p.lastUpdate) < 100*time.Millisecond {
		return
	}
	p.lastUpdate = time.Now()
	p.lastPhase = pr.Phase

	fmt.Printf("\r\033[K%s", ui.FormatProgress(string(pr.Phase), pr.Current, pr.Total, truncatePath(pr.File, 40)))
}

// truncatePath shortens a path for display.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return "..." + path[len(path)-maxLen+3:]
}

// languageCounts returns "lang: n" pairs sorted by count, then name.
func languageCounts(langs map[string]int) []string {
	names := make([]string, 0, len(langs))
	for name := range langs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if langs[names[i]] != langs[names[j]] {
			return langs[names[i]] > langs[names[j]]
		}
		return names[i] < names[j]
	})

	out := make([]string, len(names))
	for i, name := range names {
		out[i] = fmt.Sprintf("%s: %d", name, langs[name])
	}
	return out
}
