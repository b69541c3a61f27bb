package embeddings

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"

	"github.com/nickcecere/projectkb/internal/metrics"
)

const (
	defaultLocalModel      = "feature-hash-v1"
	defaultLocalDimensions = 384
)

// LocalService embeds text in-process. The underlying model is loaded on
// first use and shared by every LocalService in the process.
type LocalService struct {
	modelID    string
	dimensions int
}

// NewLocalService creates a local embedding service.
func NewLocalService(model string, dimensions int) *LocalService {
	if model == "" {
		model = defaultLocalModel
	}
	if dimensions <= 0 {
		dimensions = defaultLocalDimensions
	}
	return &LocalService{modelID: model, dimensions: dimensions}
}

// Embed generates an embedding for document text.
func (s *LocalService) Embed(ctx context.Context, text string) (Vector, error) {
	if IsBlank(text) {
		return Vector{}, nil
	}
	if err := ctx.Err(); err != nil {
		return Vector{}, err
	}

	start := time.Now()
	values := sharedModel(s.modelID, s.dimensions).encode(text)
	metrics.EmbedDuration.WithLabelValues(string(ProviderLocal)).Observe(time.Since(start).Seconds())
	metrics.EmbedRequests.WithLabelValues(string(ProviderLocal), "ok").Inc()

	return Vector{Values: values, Model: Tag(ProviderLocal, s.modelID)}, nil
}

// EmbedQuery generates an embedding for query text.
func (s *LocalService) EmbedQuery(ctx context.Context, text string) (Vector, error) {
	return s.Embed(ctx, text)
}

// Dimensions returns the embedding dimensions.
func (s *LocalService) Dimensions() int {
	return s.dimensions
}

// Provider returns the provider name.
func (s *LocalService) Provider() Provider {
	return ProviderLocal
}

// ModelName returns the model name.
func (s *LocalService) ModelName() string {
	return s.modelID
}

// lazyModel initialises its model exactly once, however many goroutines ask.
type lazyModel struct {
	once  sync.Once
	model *hashModel
}

var (
	localModelsMu sync.Mutex
	localModels   = make(map[string]*lazyModel)

	// localLoads counts model initialisations.
	localLoads atomic.Int64
)

// sharedModel returns the process-wide model for id and dimensions.
func sharedModel(id string, dimensions int) *hashModel {
	key := fmt.Sprintf("%s/%d", id, dimensions)

	localModelsMu.Lock()
	lm, ok := localModels[key]
	if !ok {
		lm = &lazyModel{}
		localModels[key] = lm
	}
	localModelsMu.Unlock()

	lm.once.Do(func() {
		lm.model = loadHashModel(id, dimensions)
	})
	return lm.model
}

// hashModel is a feature-hashing encoder. Tokens, adjacent token pairs and
// character trigrams are hashed into signed buckets, mean pooled, and
// normalised to unit length.
type hashModel struct {
	id         string
	dimensions int
	seed       uint64
	stopwords  map[string]struct{}
}

func loadHashModel(id string, dimensions int) *hashModel {
	localLoads.Add(1)
	log.Debug("Loading local embedding model", "model", id, "dimensions", dimensions)

	stop := make(map[string]struct{}, len(stopwords))
	for _, w := range stopwords {
		stop[w] = struct{}{}
	}

	return &hashModel{
		id:         id,
		dimensions: dimensions,
		seed:       xxhash.Sum64String(id),
		stopwords:  stop,
	}
}

// Feature weights.
const (
	tokenWeight   = 1.0
	bigramWeight  = 0.75
	trigramWeight = 0.35
)

func (m *hashModel) encode(text string) []float32 {
	vec := make([]float32, m.dimensions)
	features := 0

	tokens := tokenize(text)
	prev := ""
	for _, tok := range tokens {
		if _, stop := m.stopwords[tok]; stop {
			prev = ""
			continue
		}
		m.add(vec, tok, tokenWeight)
		features++
		if prev != "" {
			m.add(vec, prev+" "+tok, bigramWeight)
			features++
		}
		for _, g := range trigrams(tok) {
			m.add(vec, "#"+g, trigramWeight)
			features++
		}
		prev = tok
	}

	// Text made only of stopwords or punctuation still gets a direction.
	if features == 0 {
		for _, g := range trigrams(strings.ToLower(strings.TrimSpace(text))) {
			m.add(vec, "#"+g, trigramWeight)
			features++
		}
	}

	for i := range vec {
		vec[i] /= float32(features)
	}
	return NormalizeVector(vec)
}

func (m *hashModel) add(vec []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature) ^ m.seed
	// Final avalanche step so the seed affects every bit.
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33

	idx := h % uint64(m.dimensions)
	if h&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func trigrams(word string) []string {
	runes := []rune("^" + word + "$")
	if len(runes) < 3 {
		return []string{string(runes)}
	}
	grams := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+3]))
	}
	return grams
}

var stopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from", "has",
	"in", "is", "it", "its", "of", "on", "or", "that", "the", "to", "was",
	"were", "will", "with",
}
