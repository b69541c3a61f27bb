package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/projectkb/internal/config"
	"github.com/nickcecere/projectkb/internal/search"
	"github.com/nickcecere/projectkb/internal/ui"
)

const maxContentLines = 15

var (
	searchTopK     int
	searchContent  bool
	searchMarkdown bool
	searchMinScore float64
	searchContext  int
	searchJSON     bool
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base using semantic similarity",
	Long: `Search the knowledge base with a natural language query.

The query is embedded with the configured provider and every record is
ranked by cosine similarity. The knowledge base is built first if it does
not exist yet.

Examples:
  # Basic search
  projectkb search "how are releases tagged"

  # Search with highlighted content
  projectkb search "database connection" -c

  # Render results as markdown
  projectkb search "error handling" --markdown

  # Limit results
  projectkb search "api endpoints" -k 5

  # Machine-readable output
  projectkb search "config loading" --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearchCmd,
}

func init() {
	addSearchFlags(searchCmd)
}

func addSearchFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "maximum number of results (default from config)")
	cmd.Flags().BoolVarP(&searchContent, "content", "c", false, "show highlighted content in results")
	cmd.Flags().BoolVar(&searchMarkdown, "markdown", false, "render results as markdown")
	cmd.Flags().Float64Var(&searchMinScore, "min-score", 0.0, "minimum similarity score (0-1)")
	cmd.Flags().IntVar(&searchContext, "context", 0, "lines of context to show around each result")
	cmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
}

func runSearchCmd(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	cfg := config.Get()

	log.Debug("Starting search", "query", query, "top-k", searchTopK)

	a, err := newApp(cfg, "")
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := interruptContext("Interrupted")
	defer cancel()

	results, err := a.searcher.Search(ctx, query, search.Options{
		TopK:         searchTopK,
		MinScore:     searchMinScore,
		ContextLines: searchContext,
	})
	if err != nil {
		if cancelled(ctx, err) {
			return nil
		}
		return fmt.Errorf("search failed: %w", err)
	}

	switch {
	case searchJSON:
		return outputJSON(os.Stdout, query, results)
	case len(results) == 0:
		fmt.Println("No results found.")
		return nil
	case searchMarkdown:
		return outputMarkdown(results)
	}

	displayResults(results, searchContent)
	return nil
}

// displayResults formats and displays search results.
func displayResults(results []search.Result, showContent bool) {
	fmt.Printf("Found %d results:\n\n", len(results))

	for i, r := range results {
		fmt.Printf("%s %s %s\n",
			ui.Highlight.Render(fmt.Sprintf("[%d]", i+1)),
			ui.FormatFilePath(r.RelPath, r.StartLine, r.EndLine),
			ui.FormatScore(r.Score),
		)

		if !showContent {
			preview := strings.SplitN(strings.TrimSpace(r.Content), "\n", 2)[0]
			fmt.Printf("    %s\n\n", ui.Dim.Render(truncateLine(preview, 80)))
			continue
		}

		fmt.Println()
		if r.ContextBefore != "" {
			before := strings.Split(r.ContextBefore, "\n")
			displayPlainLines(r.ContextBefore, r.StartLine-len(before), true)
		}
		displayContentHighlighted(r.Content, r.StartLine, r.RelPath)
		if r.ContextAfter != "" {
			displayPlainLines(r.ContextAfter, r.EndLine+1, true)
		}
		fmt.Println()
	}
}

// displayContentHighlighted prints content with syntax highlighting, eliding
// the middle of long chunks.
func displayContentHighlighted(content string, startLine int, filename string) {
	lexer := lexers.Match(filename)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get("dracula")
	if style == nil {
		style = styles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	lines := strings.Split(content, "\n")
	if len(lines) <= maxContentLines {
		displayHighlightedLines(content, startLine, lexer, style, formatter)
		return
	}

	half := maxContentLines / 2
	displayHighlightedLines(strings.Join(lines[:half], "\n"), startLine, lexer, style, formatter)
	fmt.Printf("    %s\n", ui.Dim.Render(fmt.Sprintf("    ... (%d lines omitted)", len(lines)-2*half)))
	displayHighlightedLines(strings.Join(lines[len(lines)-half:], "\n"), startLine+len(lines)-half, lexer, style, formatter)
}

func displayHighlightedLines(content string, startLine int, lexer chroma.Lexer, style *chroma.Style, formatter chroma.Formatter) {
	iterator, err := lexer.Tokenise(nil, content)
	if err != nil {
		displayPlainLines(content, startLine, false)
		return
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		displayPlainLines(content, startLine, false)
		return
	}

	for i, line := range strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n") {
		fmt.Printf("    %s %s\n", ui.LineNum.Render(fmt.Sprintf("%4d│", startLine+i)), line)
	}
}

// displayPlainLines displays content without highlighting. Context lines are
// dimmed.
func displayPlainLines(content string, startLine int, dim bool) {
	for i, line := range strings.Split(content, "\n") {
		line = truncateLine(line, 80)
		if dim {
			line = ui.Dim.Render(line)
		}
		fmt.Printf("    %s %s\n", ui.LineNum.Render(fmt.Sprintf("%4d│", startLine+i)), line)
	}
}

// truncateLine shortens a line for display.
func truncateLine(line string, maxLen int) string {
	line = strings.ReplaceAll(line, "\t", "    ")
	if len(line) <= maxLen {
		return line
	}
	return line[:maxLen-3] + "..."
}

type jsonOutput struct {
	Query   string          `json:"query"`
	Results []search.Result `json:"results"`
}

// outputJSON writes results as indented JSON.
func outputJSON(w io.Writer, query string, results []search.Result) error {
	if results == nil {
		results = []search.Result{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonOutput{Query: query, Results: results})
}

// outputMarkdown renders results through glamour, falling back to raw
// markdown when the terminal renderer is unavailable.
func outputMarkdown(results []search.Result) error {
	md := resultsMarkdown(results)

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Println(md)
		return nil
	}

	rendered, err := renderer.Render(md)
	if err != nil {
		fmt.Println(md)
		return nil
	}
	fmt.Print(rendered)
	return nil
}

// resultsMarkdown formats results as a markdown document with one fenced
// block per hit.
func resultsMarkdown(results []search.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %d results\n\n", len(results))

	for i, r := range results {
		fmt.Fprintf(&sb, "## %d. `%s` lines %d-%d (%.1f%%)\n\n", i+1, r.RelPath, r.StartLine, r.EndLine, r.Score*100)

		fence := "```"
		for strings.Contains(r.Content, fence) {
			fence += "`"
		}
		fmt.Fprintf(&sb, "%s%s\n%s\n%s\n\n", fence, r.Language, r.Content, fence)
	}

	return sb.String()
}
