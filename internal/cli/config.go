package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nickcecere/projectkb/internal/config"
	"github.com/nickcecere/projectkb/internal/ui"
)

var configShowPath bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long: `Display current configuration settings and config file locations.

Examples:
  # Show current configuration
  projectkb config

  # Show config file paths
  projectkb config --path`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShowPath, "path", false, "show config file paths")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	if configShowPath {
		fmt.Println(ui.SectionTitle.Render("Configuration Paths"))
		fmt.Println()
		fmt.Printf("Global config: %s\n", config.GlobalConfigPath())
		fmt.Printf("Local config:  %s (searched from cwd upward)\n", config.RCFileName)
		fmt.Printf("Active config: %s\n", config.ConfigFilePath())
		fmt.Printf("Store:         %s\n", cfg.StorePath())
		fmt.Printf("Cache:         %s\n", cfg.CachePath())
		return nil
	}

	fmt.Println(ui.SectionTitle.Render("Current Configuration"))
	fmt.Println()

	ec := cfg.Embeddings
	fmt.Println(ui.Bold.Render("Embeddings:"))
	fmt.Printf("  Provider: %s\n", ec.Provider)
	if ec.Provider == config.ProviderAuto {
		fmt.Printf("  Remote: %s\n", ec.Remote)
	}
	fmt.Printf("  Ollama URL: %s\n", ec.Ollama.URL)
	fmt.Printf("  Ollama Model: %s\n", ec.Ollama.Model)
	fmt.Printf("  OpenAI Model: %s\n", ec.OpenAI.Model)
	if ec.OpenAI.BaseURL != "" {
		fmt.Printf("  OpenAI Base URL: %s\n", ec.OpenAI.BaseURL)
	}
	fmt.Printf("  OpenAI API Key: %s\n", maskSecret(ec.OpenAI.APIKey))
	fmt.Printf("  Local Model: %s (%d dims)\n", ec.Local.Model, ec.Local.Dimensions)
	fmt.Printf("  Request Delay: %s\n", ec.RequestDelay)
	fmt.Printf("  Timeout: %s\n", ec.Timeout)
	fmt.Printf("  Max Retries: %d\n", ec.MaxRetries)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Storage:"))
	fmt.Printf("  Backend: %s\n", cfg.Storage.Backend)
	fmt.Printf("  Data Dir: %s\n", cfg.Storage.DataDir)
	fmt.Println()

	ic := cfg.Indexing
	fmt.Println(ui.Bold.Render("Indexing:"))
	fmt.Printf("  Root: %s\n", ic.Root)
	fmt.Printf("  Chunk Lines: %d\n", ic.ChunkLines)
	fmt.Printf("  Max File Size: %d bytes\n", ic.MaxFileSize)
	fmt.Printf("  Workers: %d\n", ic.Workers)
	fmt.Printf("  Strict: %t\n", ic.Strict)
	fmt.Printf("  Gitignore: %t\n", ic.UseGitignore)
	fmt.Printf("  Extensions: %s\n", strings.Join(ic.Extensions, " "))
	fmt.Printf("  Ignore Patterns: %d configured\n", len(ic.Ignore))
	fmt.Println()

	sc := cfg.Search
	fmt.Println(ui.Bold.Render("Search:"))
	fmt.Printf("  Top K: %d (max %d)\n", sc.DefaultTopK, sc.MaxTopK)
	fmt.Printf("  Preview Length: %d\n", sc.PreviewLength)
	fmt.Printf("  Match Model: %t\n", sc.MatchModel)
	fmt.Printf("  Query Cache: %d\n", sc.QueryCacheSize)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Server:"))
	fmt.Printf("  Address: %s\n", cfg.Server.Addr)
	fmt.Printf("  Watch Debounce: %s\n", cfg.Watch.Debounce)

	return nil
}

// maskSecret hides all but the last four characters of a secret.
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
