package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/projectkb/internal/cache"
	"github.com/nickcecere/projectkb/internal/config"
	"github.com/nickcecere/projectkb/internal/embeddings"
	"github.com/nickcecere/projectkb/internal/store"
	"github.com/nickcecere/projectkb/internal/ui"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show knowledge base status and statistics",
	Long: `Display information about the persisted knowledge base including:
- Number of records and files
- Embedding models the records were produced by
- Build id and timestamps
- Embedding cache size`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	fmt.Println(ui.Header.Render("Knowledge Base Status"))
	fmt.Println()
	fmt.Printf("  %s %s\n", ui.Dim.Render("Store:"), st.Path())

	kb, err := st.Load(cmd.Context())
	switch {
	case errors.Is(err, store.ErrCorrupt):
		fmt.Printf("  %s\n", ui.Error.Render("corrupt: "+err.Error()))
		fmt.Println()
		fmt.Println("Run 'projectkb build' to rebuild it.")
		return nil
	case err != nil:
		return fmt.Errorf("failed to load knowledge base: %w", err)
	case kb == nil:
		fmt.Printf("  %s\n", ui.Warning.Render("not built yet"))
		fmt.Println()
		fmt.Println("Run 'projectkb build [path]' to create it.")
		return nil
	}

	fmt.Printf("  %s %s\n", ui.Dim.Render("Root:"), kb.Root)
	if _, err := os.Stat(kb.Root); os.IsNotExist(err) {
		fmt.Printf("  %s\n", ui.Warning.Render("(path no longer exists)"))
	}
	fmt.Printf("  %s %d records, %d files\n", ui.Dim.Render("Indexed:"), len(kb.Records), kb.Files())

	langs := make(map[string]int)
	for _, r := range kb.Records {
		lang := r.Language
		if lang == "" {
			lang = "other"
		}
		langs[lang]++
	}
	if len(langs) > 0 {
		fmt.Printf("  %s %s\n", ui.Dim.Render("Languages:"), strings.Join(languageCounts(langs), ", "))
	}

	fmt.Printf("  %s %s\n", ui.Dim.Render("Models:"), strings.Join(kb.Models(), ", "))
	fmt.Printf("  %s %d\n", ui.Dim.Render("Version:"), kb.Version)
	fmt.Printf("  %s %s\n", ui.Dim.Render("Build:"), kb.BuildID)
	fmt.Printf("  %s %s\n", ui.Dim.Render("Created:"), formatTime(kb.CreatedAt))
	fmt.Printf("  %s %s\n", ui.Dim.Render("Updated:"), formatTime(kb.UpdatedAt))
	fmt.Printf("  %s %s\n", ui.Dim.Render("Health:"), healthStatus(kb, cfg))

	entries, err := cache.Load(cfg.CachePath())
	if err != nil {
		log.Warn("Failed to read embedding cache", "error", err)
	} else {
		fmt.Println()
		fmt.Println(ui.Dim.Render("Embedding cache:"))
		fmt.Printf("  Path:  %s\n", cfg.CachePath())
		fmt.Printf("  Files: %d\n", len(entries))
	}

	return nil
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	t = t.Local()

	// If today, show time only
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return "today at " + t.Format("15:04")
	}

	// If this year, omit year
	if t.Year() == now.Year() {
		return t.Format("Jan 2 at 15:04")
	}

	return t.Format("Jan 2, 2006 at 15:04")
}

// healthStatus returns a health indicator for the knowledge base.
func healthStatus(kb *store.KbData, cfg *config.Config) string {
	if len(kb.Records) == 0 {
		return ui.Warning.Render("empty (no files indexed)")
	}

	models := kb.Models()
	if len(models) > 1 {
		return ui.Warning.Render(fmt.Sprintf("mixed models (%d), rebuild once the remote backend is reachable", len(models)))
	}

	if emb, err := embeddings.NewService(cfg); err == nil && len(models) == 1 {
		if tag := embeddings.ServiceTag(emb); tag != models[0] {
			return ui.Warning.Render(fmt.Sprintf("built with %s, configured for %s", models[0], tag))
		}
	}

	return ui.Success.Render("healthy")
}
