package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIService implements the embedding service using OpenAI API or any
// compatible endpoint reachable through a base URL override.
type OpenAIService struct {
	client        openai.Client
	model         string
	requestedDims int
	dimensions    atomic.Int64
	remote        remoteOptions
}

// NewOpenAIService creates a new OpenAI embedding service. A non-zero
// dimensions value is sent to the API for models that support shortening.
func NewOpenAIService(apiKey, model, baseURL string, dimensions int, opts ...RemoteOption) (*OpenAIService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	remote := newRemoteOptions(opts)

	// Retries are handled by remoteOptions so they share the politeness limiter.
	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(remote.httpClient),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}

	s := &OpenAIService{
		client:        openai.NewClient(clientOpts...),
		model:         model,
		requestedDims: dimensions,
		remote:        remote,
	}

	if dimensions == 0 {
		dimensions = GetModelDimensions(model)
		if dimensions == 0 {
			dimensions = 1536
			log.Debug("Unknown model dimensions, defaulting", "model", model, "dimensions", dimensions)
		}
	}
	s.dimensions.Store(int64(dimensions))

	return s, nil
}

// Embed generates an embedding for document text.
func (s *OpenAIService) Embed(ctx context.Context, text string) (Vector, error) {
	if IsBlank(text) {
		return Vector{}, nil
	}

	values, err := s.remote.do(ctx, ProviderOpenAI, func(ctx context.Context) ([]float32, error) {
		return s.embedText(ctx, text)
	})
	if err != nil {
		return Vector{}, err
	}

	return Vector{Values: values, Model: Tag(ProviderOpenAI, s.model)}, nil
}

// EmbedQuery generates an embedding for query text.
// OpenAI doesn't use task prefixes, so this is the same as Embed.
func (s *OpenAIService) EmbedQuery(ctx context.Context, text string) (Vector, error) {
	return s.Embed(ctx, text)
}

// Dimensions returns the embedding dimensions.
func (s *OpenAIService) Dimensions() int {
	return int(s.dimensions.Load())
}

// Provider returns the provider name.
func (s *OpenAIService) Provider() Provider {
	return ProviderOpenAI
}

// ModelName returns the model name.
func (s *OpenAIService) ModelName() string {
	return s.model
}

// embedText performs a single embedding request.
func (s *OpenAIService) embedText(ctx context.Context, text string) ([]float32, error) {
	log.Debug("Requesting embedding from OpenAI", "model", s.model, "chars", len(text))

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(s.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
	}
	if s.requestedDims > 0 {
		params.Dimensions = openai.Int(int64(s.requestedDims))
	}

	resp, err := s.client.Embeddings.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &statusError{provider: ProviderOpenAI, code: apiErr.StatusCode, body: apiErr.Message}
		}
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, permanent(ErrEmptyEmbedding)
	}

	// The API returns float64 values.
	raw := resp.Data[0].Embedding
	embedding := make([]float32, len(raw))
	for i, v := range raw {
		embedding[i] = float32(v)
	}

	s.dimensions.Store(int64(len(embedding)))
	return embedding, nil
}
