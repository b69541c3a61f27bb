// Package config handles configuration loading and validation for projectkb.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// Config represents the complete projectkb configuration.
type Config struct {
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Indexing   IndexingConfig   `mapstructure:"indexing"`
	Search     SearchConfig     `mapstructure:"search"`
	Server     ServerConfig     `mapstructure:"server"`
	Watch      WatchConfig      `mapstructure:"watch"`
}

// EmbeddingsConfig configures the embedding service.
type EmbeddingsConfig struct {
	// Provider is one of auto, ollama, openai or local.
	Provider string `mapstructure:"provider"`
	// Remote selects the remote backend that auto mode tries first.
	Remote       string            `mapstructure:"remote"`
	Ollama       OllamaEmbedConfig `mapstructure:"ollama"`
	OpenAI       OpenAIEmbedConfig `mapstructure:"openai"`
	Local        LocalEmbedConfig  `mapstructure:"local"`
	RequestDelay time.Duration     `mapstructure:"request_delay"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	MaxRetries   int               `mapstructure:"max_retries"`
}

// OllamaEmbedConfig configures Ollama embeddings.
type OllamaEmbedConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAIEmbedConfig configures OpenAI embeddings.
type OpenAIEmbedConfig struct {
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LocalEmbedConfig configures the in-process embedding model.
type LocalEmbedConfig struct {
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// StorageConfig configures where the KB and cache are persisted.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
	Backend string `mapstructure:"backend"`
}

// IndexingConfig configures the indexing process.
type IndexingConfig struct {
	Root           string   `mapstructure:"root"`
	ChunkLines     int      `mapstructure:"chunk_lines"`
	MaxFileSize    int64    `mapstructure:"max_file_size"`
	Workers        int      `mapstructure:"workers"`
	Strict         bool     `mapstructure:"strict"`
	IncludeHidden  bool     `mapstructure:"include_hidden"`
	UseGitignore   bool     `mapstructure:"use_gitignore"`
	FollowSymlinks bool     `mapstructure:"follow_symlinks"`
	Extensions     []string `mapstructure:"extensions"`
	Ignore         []string `mapstructure:"ignore"`
}

// SearchConfig configures query behaviour.
type SearchConfig struct {
	DefaultTopK    int  `mapstructure:"default_top_k"`
	MaxTopK        int  `mapstructure:"max_top_k"`
	PreviewLength  int  `mapstructure:"preview_length"`
	MatchModel     bool `mapstructure:"match_model"`
	QueryCacheSize int  `mapstructure:"query_cache_size"`
}

// ServerConfig configures the HTTP query server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// WatchConfig configures the filesystem watcher.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// Global configuration instance
var cfg *Config

// Get returns the current configuration.
func Get() *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Embeddings: EmbeddingsConfig{
			Provider: DefaultEmbeddingProvider,
			Remote:   DefaultRemoteProvider,
			Ollama: OllamaEmbedConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaEmbedModel,
			},
			OpenAI: OpenAIEmbedConfig{
				Model: DefaultOpenAIEmbedModel,
			},
			Local: LocalEmbedConfig{
				Model:      DefaultLocalEmbedModel,
				Dimensions: DefaultLocalDimensions,
			},
			RequestDelay: DefaultRequestDelay,
			Timeout:      DefaultEmbedTimeout,
			MaxRetries:   DefaultMaxRetries,
		},
		Storage: StorageConfig{
			DataDir: DefaultDataDir,
			Backend: BackendJSON,
		},
		Indexing: IndexingConfig{
			Root:         ".",
			ChunkLines:   DefaultChunkLines,
			MaxFileSize:  DefaultMaxFileSize,
			Workers:      DefaultWorkers,
			UseGitignore: true,
			Extensions:   DefaultExtensions(),
		},
		Search: SearchConfig{
			DefaultTopK:    DefaultTopK,
			MaxTopK:        DefaultMaxTopK,
			PreviewLength:  DefaultPreviewLength,
			MatchModel:     true,
			QueryCacheSize: DefaultQueryCacheSize,
		},
		Server: ServerConfig{
			Addr: DefaultServerAddr,
		},
		Watch: WatchConfig{
			Debounce: DefaultDebounce,
		},
	}
}

// Load reads configuration from file and environment variables.
func Load(configFile string) error {
	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(DefaultConfigDir())

		// A project-local .projectkb.yaml wins over the global config.
		if rcPath := findRCFile(); rcPath != "" {
			viper.SetConfigFile(rcPath)
		}
	}

	viper.SetEnvPrefix("PROJECTKB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := bindLegacyEnv(); err != nil {
		return err
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug("No config file found, using defaults")
	} else {
		log.Debug("Loaded config from", "file", viper.ConfigFileUsed())
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	cfg = loaded
	return nil
}

// Validate checks option values that the rest of the program relies on.
func (c *Config) Validate() error {
	switch c.Embeddings.Provider {
	case ProviderAuto, ProviderOllama, ProviderOpenAI, ProviderLocal:
	default:
		return fmt.Errorf("unknown embeddings provider %q (want auto, ollama, openai or local)", c.Embeddings.Provider)
	}
	switch c.Embeddings.Remote {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown remote embeddings provider %q (want ollama or openai)", c.Embeddings.Remote)
	}
	switch c.Storage.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("unknown storage backend %q (want json or sqlite)", c.Storage.Backend)
	}
	if c.Indexing.ChunkLines <= 0 {
		return fmt.Errorf("indexing.chunk_lines must be positive, got %d", c.Indexing.ChunkLines)
	}
	if c.Indexing.Workers <= 0 {
		return fmt.Errorf("indexing.workers must be positive, got %d", c.Indexing.Workers)
	}
	if c.Search.DefaultTopK <= 0 || c.Search.MaxTopK < c.Search.DefaultTopK {
		return fmt.Errorf("invalid search limits: default_top_k=%d max_top_k=%d", c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	if c.Embeddings.Local.Dimensions <= 0 {
		return fmt.Errorf("embeddings.local.dimensions must be positive, got %d", c.Embeddings.Local.Dimensions)
	}
	return nil
}

// setDefaults sets default values in viper.
func setDefaults() {
	d := DefaultConfig()

	viper.SetDefault("embeddings.provider", d.Embeddings.Provider)
	viper.SetDefault("embeddings.remote", d.Embeddings.Remote)
	viper.SetDefault("embeddings.ollama.url", d.Embeddings.Ollama.URL)
	viper.SetDefault("embeddings.ollama.model", d.Embeddings.Ollama.Model)
	viper.SetDefault("embeddings.openai.model", d.Embeddings.OpenAI.Model)
	viper.SetDefault("embeddings.openai.base_url", "")
	viper.SetDefault("embeddings.openai.api_key", "")
	viper.SetDefault("embeddings.openai.dimensions", 0)
	viper.SetDefault("embeddings.local.model", d.Embeddings.Local.Model)
	viper.SetDefault("embeddings.local.dimensions", d.Embeddings.Local.Dimensions)
	viper.SetDefault("embeddings.request_delay", d.Embeddings.RequestDelay)
	viper.SetDefault("embeddings.timeout", d.Embeddings.Timeout)
	viper.SetDefault("embeddings.max_retries", d.Embeddings.MaxRetries)

	viper.SetDefault("storage.data_dir", d.Storage.DataDir)
	viper.SetDefault("storage.backend", d.Storage.Backend)

	viper.SetDefault("indexing.root", d.Indexing.Root)
	viper.SetDefault("indexing.chunk_lines", d.Indexing.ChunkLines)
	viper.SetDefault("indexing.max_file_size", d.Indexing.MaxFileSize)
	viper.SetDefault("indexing.workers", d.Indexing.Workers)
	viper.SetDefault("indexing.strict", false)
	viper.SetDefault("indexing.include_hidden", false)
	viper.SetDefault("indexing.use_gitignore", d.Indexing.UseGitignore)
	viper.SetDefault("indexing.follow_symlinks", false)
	viper.SetDefault("indexing.extensions", d.Indexing.Extensions)
	viper.SetDefault("indexing.ignore", []string{})

	viper.SetDefault("search.default_top_k", d.Search.DefaultTopK)
	viper.SetDefault("search.max_top_k", d.Search.MaxTopK)
	viper.SetDefault("search.preview_length", d.Search.PreviewLength)
	viper.SetDefault("search.match_model", d.Search.MatchModel)
	viper.SetDefault("search.query_cache_size", d.Search.QueryCacheSize)

	viper.SetDefault("server.addr", d.Server.Addr)
	viper.SetDefault("watch.debounce", d.Watch.Debounce)
}

// legacyEnv maps config keys to the plain environment names that earlier
// deployments used. The PROJECTKB_ form is checked first.
var legacyEnv = map[string]string{
	"embeddings.provider":        "EMBED_PROVIDER",
	"embeddings.ollama.url":      "OLLAMA_BASE_URL",
	"embeddings.ollama.model":    "OLLAMA_EMBED_MODEL",
	"embeddings.local.model":     "LOCAL_EMBED_MODEL",
	"embeddings.openai.api_key":  "OPENAI_API_KEY",
	"embeddings.openai.base_url": "OPENAI_BASE_URL",
	"embeddings.openai.model":    "OPENAI_EMBED_MODEL",
}

func bindLegacyEnv() error {
	for key, env := range legacyEnv {
		prefixed := "PROJECTKB_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := viper.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

// findRCFile searches for .projectkb.yaml starting from current directory.
func findRCFile() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		rcPath := filepath.Join(dir, RCFileName)
		if _, err := os.Stat(rcPath); err == nil {
			return rcPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// ConfigFilePath returns the path of the loaded config file, or empty string if none.
func ConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// StorePath returns the KB store location for the configured backend.
func (c *Config) StorePath() string {
	if c.Storage.Backend == BackendSQLite {
		return filepath.Join(c.Storage.DataDir, StoreDBFileName)
	}
	return filepath.Join(c.Storage.DataDir, StoreFileName)
}

// CachePath returns the embedding cache location.
func (c *Config) CachePath() string {
	return filepath.Join(c.Storage.DataDir, CacheFileName)
}
