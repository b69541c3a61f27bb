// Package embeddings provides text embedding services for semantic search.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/projectkb/internal/config"
)

// Provider represents an embedding provider type.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
	ProviderLocal  Provider = "local"
	ProviderAuto   Provider = "auto"
)

// ErrEmptyEmbedding is returned when a backend answers without a vector.
var ErrEmptyEmbedding = errors.New("no embedding returned")

// Vector is an embedding tagged with the model that produced it.
type Vector struct {
	Values []float32 `json:"values"`
	Model  string    `json:"model,omitempty"`
}

// IsEmpty reports whether the vector carries no values. Blank input text
// produces an empty vector, and callers must not store it.
func (v Vector) IsEmpty() bool {
	return len(v.Values) == 0
}

// UnmarshalJSON accepts the tagged object form as well as a bare number
// array, which decodes as an untagged vector.
func (v *Vector) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		var values []float32
		if err := json.Unmarshal(trimmed, &values); err != nil {
			return err
		}
		*v = Vector{Values: values}
		return nil
	}

	type plain Vector
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*v = Vector(p)
	return nil
}

// Service defines the interface for embedding services.
type Service interface {
	// Embed generates an embedding for document text. Blank text yields an
	// empty Vector without contacting the backend.
	Embed(ctx context.Context, text string) (Vector, error)

	// EmbedQuery generates an embedding for a query (may use different task prefix).
	EmbedQuery(ctx context.Context, text string) (Vector, error)

	// Dimensions returns the embedding dimensions for this model.
	Dimensions() int

	// Provider returns the provider name.
	Provider() Provider

	// ModelName returns the model name.
	ModelName() string
}

// Tag returns the model tag recorded alongside vectors, e.g. "ollama:nomic-embed-text".
func Tag(p Provider, model string) string {
	return string(p) + ":" + model
}

// ServiceTag returns the tag of the vectors a service produces when its
// primary backend answers.
func ServiceTag(s Service) string {
	if f, ok := s.(*FallbackService); ok {
		return ServiceTag(f.primary)
	}
	return Tag(s.Provider(), s.ModelName())
}

// IsBlank reports whether text is empty or whitespace only.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// Known model dimensions
var modelDimensions = map[string]int{
	// Ollama models
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,

	// OpenAI models
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// GetModelDimensions returns the known dimensions for a model, or 0 if unknown.
func GetModelDimensions(model string) int {
	return modelDimensions[model]
}

// NewService creates an embedding service based on the configuration.
func NewService(cfg *config.Config) (Service, error) {
	ec := cfg.Embeddings
	local := NewLocalService(ec.Local.Model, ec.Local.Dimensions)

	switch Provider(ec.Provider) {
	case ProviderLocal:
		return local, nil
	case ProviderOllama, ProviderOpenAI:
		return newRemoteService(cfg, Provider(ec.Provider))
	case ProviderAuto:
		remote, err := newRemoteService(cfg, Provider(ec.Remote))
		if err != nil {
			log.Warn("Remote embeddings unavailable, using the local model only", "remote", ec.Remote, "error", err)
			return local, nil
		}
		return NewFallbackService(remote, local), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", ec.Provider)
	}
}

// newRemoteService builds a remote backend with its own politeness limiter.
// Every worker shares the returned instance, so the limiter applies in aggregate.
func newRemoteService(cfg *config.Config, provider Provider) (Service, error) {
	ec := cfg.Embeddings
	opts := []RemoteOption{
		WithRequestDelay(ec.RequestDelay),
		WithTimeout(ec.Timeout),
		WithMaxRetries(ec.MaxRetries),
	}

	switch provider {
	case ProviderOllama:
		return NewOllamaService(ec.Ollama.URL, ec.Ollama.Model, opts...)
	case ProviderOpenAI:
		return NewOpenAIService(ec.OpenAI.APIKey, ec.OpenAI.Model, ec.OpenAI.BaseURL, ec.OpenAI.Dimensions, opts...)
	default:
		return nil, fmt.Errorf("unsupported remote embedding provider: %s", provider)
	}
}

// NormalizeVector scales v to unit length in place. Zero vectors are left unchanged.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
