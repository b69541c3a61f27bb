package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Task prefixes for specific models
var taskPrefixes = map[string]struct {
	document string
	query    string
}{
	"nomic-embed-text": {
		document: "search_document: ",
		query:    "search_query: ",
	},
	"mxbai-embed-large": {
		document: "", // No prefix for documents
		query:    "Represent this sentence for searching relevant passages: ",
	},
}

// OllamaService implements the embedding service using Ollama. One request is
// issued per text.
type OllamaService struct {
	baseURL    string
	model      string
	dimensions atomic.Int64
	remote     remoteOptions
}

// ollamaEmbedRequest is the request body for the Ollama embeddings API.
type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// ollamaEmbedResponse is the response from the Ollama embeddings API.
type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaService creates a new Ollama embedding service.
func NewOllamaService(baseURL, model string, opts ...RemoteOption) (*OllamaService, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		return nil, fmt.Errorf("ollama embedding model is required")
	}

	s := &OllamaService{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		remote:  newRemoteOptions(opts),
	}

	dimensions := GetModelDimensions(model)
	if dimensions == 0 {
		// Corrected by the first successful response.
		dimensions = 768
		log.Debug("Unknown model dimensions, defaulting", "model", model, "dimensions", dimensions)
	}
	s.dimensions.Store(int64(dimensions))

	return s, nil
}

// Embed generates an embedding for document text.
func (s *OllamaService) Embed(ctx context.Context, text string) (Vector, error) {
	return s.embed(ctx, text, false)
}

// EmbedQuery generates an embedding for query text.
func (s *OllamaService) EmbedQuery(ctx context.Context, text string) (Vector, error) {
	return s.embed(ctx, text, true)
}

// Dimensions returns the embedding dimensions.
func (s *OllamaService) Dimensions() int {
	return int(s.dimensions.Load())
}

// Provider returns the provider name.
func (s *OllamaService) Provider() Provider {
	return ProviderOllama
}

// ModelName returns the model name.
func (s *OllamaService) ModelName() string {
	return s.model
}

func (s *OllamaService) embed(ctx context.Context, text string, isQuery bool) (Vector, error) {
	if IsBlank(text) {
		return Vector{}, nil
	}

	prompt := s.applyPrefix(text, isQuery)
	values, err := s.remote.do(ctx, ProviderOllama, func(ctx context.Context) ([]float32, error) {
		return s.embedText(ctx, prompt)
	})
	if err != nil {
		return Vector{}, err
	}

	return Vector{Values: values, Model: Tag(ProviderOllama, s.model)}, nil
}

// applyPrefix applies the appropriate task prefix for the model.
func (s *OllamaService) applyPrefix(text string, isQuery bool) string {
	prefixes, ok := taskPrefixes[s.model]
	if !ok {
		return text
	}

	if isQuery {
		return prefixes.query + text
	}
	return prefixes.document + text
}

// embedText performs a single embedding request.
func (s *OllamaService) embedText(ctx context.Context, prompt string) ([]float32, error) {
	jsonBody, err := json.Marshal(ollamaEmbedRequest{Model: s.model, Prompt: prompt})
	if err != nil {
		return nil, permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	log.Debug("Requesting embedding from Ollama", "model", s.model, "chars", len(prompt))

	resp, err := s.remote.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{provider: ProviderOllama, code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	if len(result.Embedding) == 0 {
		return nil, permanent(ErrEmptyEmbedding)
	}

	s.dimensions.Store(int64(len(result.Embedding)))
	return result.Embedding, nil
}
