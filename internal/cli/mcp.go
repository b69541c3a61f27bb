package cli

import (
	"context"
	"errors"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/projectkb/internal/config"
	"github.com/nickcecere/projectkb/internal/mcp"
	"github.com/nickcecere/projectkb/internal/watcher"
)

var (
	mcpNoWatch bool
)

// mcpCmd represents the MCP server command.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI agent integration",
	Long: `Start a Model Context Protocol (MCP) server for integration with AI coding agents.

The server communicates over stdin/stdout and provides tools for:
  - kb_search: Semantic search over the project knowledge base
  - kb_build:  Rebuild the knowledge base

By default, the server also starts a background file watcher to keep the knowledge
base up-to-date. Use --no-watch to disable this.

This command is typically invoked by an agent and not run directly by users.`,
	Args: cobra.NoArgs,
	RunE: runMcpCmd,
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpNoWatch, "no-watch", false, "disable background file watching")
}

func runMcpCmd(cmd *cobra.Command, args []string) error {
	// stdout carries the protocol, so logs go to stderr
	log.SetOutput(os.Stderr)

	cfg := config.Get()

	a, err := newApp(cfg, "")
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := interruptContext("")
	defer cancel()

	if !mcpNoWatch {
		go startBackgroundWatcher(ctx, a, cfg)
	}

	server := mcp.NewServer(a.searcher, a.indexer, a.root, version, cfg)
	return server.Serve()
}

// startBackgroundWatcher rebuilds the knowledge base while the server runs.
func startBackgroundWatcher(ctx context.Context, a *app, cfg *config.Config) {
	w, err := watcher.New(a.root, a.indexer, cfg)
	if err != nil {
		log.Error("Failed to create watcher", "error", err)
		return
	}

	log.Info("Starting background file watcher", "path", a.root)
	if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Watcher error", "error", err)
	}
}
