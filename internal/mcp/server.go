// Package mcp exposes the knowledge base to MCP clients over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/nickcecere/projectkb/internal/config"
	"github.com/nickcecere/projectkb/internal/indexer"
	"github.com/nickcecere/projectkb/internal/search"
	"github.com/nickcecere/projectkb/internal/store"
)

// ServerName is the name of this MCP server.
const ServerName = "projectkb"

// Searcher answers queries.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// Builder rebuilds the knowledge base.
type Builder interface {
	Build(ctx context.Context, root string) (*store.KbData, *indexer.Stats, error)
}

// Server is the MCP server for projectkb.
type Server struct {
	mcp      *mcpserver.MCPServer
	searcher Searcher
	builder  Builder
	root     string
	cfg      *config.Config
}

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

// NewServer creates an MCP server over the knowledge base rooted at root.
func NewServer(s Searcher, b Builder, root, version string, cfg *config.Config) *Server {
	srv := &Server{
		mcp:      mcpserver.NewMCPServer(ServerName, version, mcpserver.WithToolCapabilities(false)),
		searcher: s,
		builder:  b,
		root:     root,
		cfg:      cfg,
	}

	srv.mcp.AddTool(searchTool(), srv.handleSearch)
	srv.mcp.AddTool(buildTool(), srv.handleBuild)

	return srv
}

// Serve runs the server on stdin/stdout until the client disconnects.
func (s *Server) Serve() error {
	log.Info("MCP server starting", "root", s.root)
	return mcpserver.ServeStdio(s.mcp)
}

func searchTool() mcp.Tool {
	return mcp.NewTool("kb_search",
		mcp.WithDescription("Semantic search over the project knowledge base. Returns the most relevant line ranges with file paths and similarity scores."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language query"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Maximum number of results to return (default 8, max 32)"),
		),
	)
}

func buildTool() mcp.Tool {
	return mcp.NewTool("kb_build",
		mcp.WithDescription("Rebuild the project knowledge base. Unchanged files are served from the embedding cache."),
	)
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	topK := req.GetInt("top_k", 0)

	results, err := s.searcher.Search(ctx, query, search.Options{TopK: topK})
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			return mcp.NewToolResultError("query is required"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	if len(results) == 0 {
		return mcp.NewToolResultText("No results found."), nil
	}

	return mcp.NewToolResultText(s.formatResults(results)), nil
}

func (s *Server) formatResults(results []search.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d results:\n\n", len(results))

	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] %s (lines %d-%d) - %.1f%% match\n",
			i+1, r.RelPath, r.StartLine, r.EndLine, r.Score*100)
		if r.Content != "" {
			content := search.Preview(r.Content, s.cfg.Search.PreviewLength)
			if content != r.Content {
				content += "..."
			}
			sb.WriteString(content)
			sb.WriteString("\n\n")
		}
	}

	return sb.String()
}

func (s *Server) handleBuild(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kb, stats, err := s.builder.Build(ctx, s.root)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("build failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Built knowledge base for %s: %d files, %d records (%d files from cache, %d embedded, %d chunks failed) in %s",
		kb.Root, kb.Files(), len(kb.Records), stats.FilesCached, stats.FilesEmbedded, stats.ChunksFailed,
		stats.Duration.Round(time.Millisecond))), nil
}
