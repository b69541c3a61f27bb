package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/projectkb/internal/config"
	"github.com/nickcecere/projectkb/internal/embeddings"
	"github.com/nickcecere/projectkb/internal/search"
)

func TestResultsMarkdown(t *testing.T) {
	results := []search.Result{
		{RelPath: "docs/a.md", StartLine: 1, EndLine: 80, Language: "markdown", Content: "# Title", Score: 0.875},
		{RelPath: "README.md", StartLine: 81, EndLine: 90, Language: "markdown", Content: "```go\nx := 1\n```", Score: 0.5},
	}

	md := resultsMarkdown(results)

	assert.True(t, strings.HasPrefix(md, "# 2 results\n"))
	assert.Contains(t, md, "## 1. `docs/a.md` lines 1-80 (87.5%)")
	assert.Contains(t, md, "```markdown\n# Title\n```")
	assert.Contains(t, md, "## 2. `README.md` lines 81-90 (50.0%)")
	// Content containing a fence gets a longer one.
	assert.Contains(t, md, "````markdown\n```go\nx := 1\n```\n````")
}

func TestOutputJSON(t *testing.T) {
	t.Run("results", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, outputJSON(&buf, "releases", []search.Result{
			{ID: "a", RelPath: "a.md", StartLine: 1, EndLine: 3, Score: 0.9},
		}))

		var out struct {
			Query   string           `json:"query"`
			Results []map[string]any `json:"results"`
		}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
		assert.Equal(t, "releases", out.Query)
		require.Len(t, out.Results, 1)
		assert.Equal(t, "a.md", out.Results[0]["relPath"])
		assert.Equal(t, 0.9, out.Results[0]["score"])
		assert.NotContains(t, out.Results[0], "contextBefore")
	})

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, outputJSON(&buf, "nothing", nil))
		assert.Contains(t, buf.String(), `"results": []`)
	})
}

func TestLanguageCounts(t *testing.T) {
	got := languageCounts(map[string]int{"go": 3, "markdown": 5, "yaml": 3})
	assert.Equal(t, []string{"markdown: 5", "go: 3", "yaml: 3"}, got)
	assert.Empty(t, languageCounts(nil))
}

func TestTruncatePath(t *testing.T) {
	assert.Equal(t, "docs/a.md", truncatePath("docs/a.md", 40))

	long := strings.Repeat("d/", 30) + "file.md"
	got := truncatePath(long, 20)
	assert.Len(t, got, 20)
	assert.True(t, strings.HasPrefix(got, "..."))
	assert.True(t, strings.HasSuffix(got, "file.md"))
}

func TestTruncateLine(t *testing.T) {
	assert.Equal(t, "short", truncateLine("short", 80))
	assert.Equal(t, "    indented", truncateLine("\tindented", 80))

	got := truncateLine(strings.Repeat("x", 100), 80)
	assert.Len(t, got, 80)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "(not set)", maskSecret(""))
	assert.Equal(t, "****", maskSecret("abc"))
	assert.Equal(t, "****wxyz", maskSecret("sk-abcdefwxyz"))
}

func TestDescribeEmbedder(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Embeddings.Provider = config.ProviderLocal

	emb, err := embeddings.NewService(cfg)
	require.NoError(t, err)
	assert.Equal(t, "local:"+cfg.Embeddings.Local.Model, describeEmbedder(emb))
}
