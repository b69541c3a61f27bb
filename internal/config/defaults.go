package config

import (
	"os"
	"path/filepath"
	"time"
)

// Provider and backend names accepted in configuration.
const (
	ProviderAuto   = "auto"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Default configuration values
const (
	// Embedding defaults
	DefaultEmbeddingProvider = ProviderAuto
	DefaultRemoteProvider    = ProviderOllama
	DefaultOllamaURL         = "http://localhost:11434"
	DefaultOllamaEmbedModel  = "nomic-embed-text"
	DefaultOpenAIEmbedModel  = "text-embedding-3-small"
	DefaultLocalEmbedModel   = "feature-hash-v1"
	DefaultLocalDimensions   = 384
	DefaultRequestDelay      = 50 * time.Millisecond
	DefaultEmbedTimeout      = 60 * time.Second
	DefaultMaxRetries        = 2

	// Indexing defaults
	DefaultChunkLines  = 80
	DefaultMaxFileSize = 2 << 20 // 2MB
	DefaultWorkers     = 4

	// Search defaults
	DefaultTopK           = 8
	DefaultMaxTopK        = 32
	DefaultPreviewLength  = 400
	DefaultQueryCacheSize = 256

	// Storage
	DefaultDataDir  = "dev-data"
	StoreFileName   = "project-kb.json"
	StoreDBFileName = "project-kb.db"
	CacheFileName   = "kb-cache.json"
	RCFileName      = ".projectkb.yaml"

	DefaultServerAddr = "127.0.0.1:7420"
	DefaultDebounce   = 750 * time.Millisecond
)

// DefaultExtensions returns the file extensions indexed by default.
func DefaultExtensions() []string {
	return []string{
		// Docs and prose
		".md", ".mdx", ".txt", ".rst", ".adoc",

		// Web
		".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs",
		".html", ".htm", ".css", ".scss", ".vue", ".svelte",

		// Data and config
		".json", ".yaml", ".yml", ".toml", ".xml", ".sql",

		// Other languages
		".go", ".py", ".rs", ".java", ".kt", ".rb", ".php",
		".c", ".h", ".cpp", ".hpp", ".cs", ".swift",
		".sh", ".bash", ".lua",
	}
}

// DefaultConfigDir returns the default configuration directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/projectkb"
	}
	return filepath.Join(home, ".config", "projectkb")
}
