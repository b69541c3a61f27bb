package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/projectkb/internal/metrics"
)

// FallbackService tries a primary backend and answers from a secondary one
// when the primary fails. Vectors keep the tag of whichever backend produced them.
type FallbackService struct {
	primary   Service
	secondary Service
}

// NewFallbackService creates a service that prefers primary.
func NewFallbackService(primary, secondary Service) *FallbackService {
	return &FallbackService{primary: primary, secondary: secondary}
}

// Embed generates an embedding for document text.
func (s *FallbackService) Embed(ctx context.Context, text string) (Vector, error) {
	return s.embed(ctx, text, Service.Embed)
}

// EmbedQuery generates an embedding for query text.
func (s *FallbackService) EmbedQuery(ctx context.Context, text string) (Vector, error) {
	return s.embed(ctx, text, Service.EmbedQuery)
}

func (s *FallbackService) embed(ctx context.Context, text string, call func(Service, context.Context, string) (Vector, error)) (Vector, error) {
	if IsBlank(text) {
		return Vector{}, nil
	}

	v, err := call(s.primary, ctx, text)
	if err == nil {
		return v, nil
	}
	// Cancellation is not a backend failure.
	if ctx.Err() != nil {
		return Vector{}, ctx.Err()
	}

	log.Warn("Embedding backend failed, falling back",
		"primary", ServiceTag(s.primary),
		"fallback", ServiceTag(s.secondary),
		"error", err)
	metrics.EmbedFallbacks.Inc()

	v, fbErr := call(s.secondary, ctx, text)
	if fbErr != nil {
		return Vector{}, errors.Join(
			fmt.Errorf("%s: %w", s.primary.Provider(), err),
			fmt.Errorf("%s: %w", s.secondary.Provider(), fbErr),
		)
	}
	return v, nil
}

// Dimensions returns the primary backend's dimensions.
func (s *FallbackService) Dimensions() int {
	return s.primary.Dimensions()
}

// Provider returns ProviderAuto.
func (s *FallbackService) Provider() Provider {
	return ProviderAuto
}

// ModelName names both models.
func (s *FallbackService) ModelName() string {
	return s.primary.ModelName() + "|" + s.secondary.ModelName()
}

// Primary returns the preferred backend.
func (s *FallbackService) Primary() Service {
	return s.primary
}

// Secondary returns the fallback backend.
func (s *FallbackService) Secondary() Service {
	return s.secondary
}
