package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/projectkb/internal/config"
)

// fastOpts disables throttling and retries so tests stay quick.
var fastOpts = []RemoteOption{WithRequestDelay(0), WithMaxRetries(0)}

// TestGetModelDimensions tests known model dimension lookups.
func TestGetModelDimensions(t *testing.T) {
	tests := []struct {
		model    string
		expected int
	}{
		{"nomic-embed-text", 768},
		{"mxbai-embed-large", 1024},
		{"all-minilm", 384},
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"unknown-model", 0},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetModelDimensions(tt.model))
		})
	}
}

// TestNewOllamaService tests Ollama service creation.
func TestNewOllamaService(t *testing.T) {
	t.Run("with default URL", func(t *testing.T) {
		svc, err := NewOllamaService("", "nomic-embed-text")
		require.NoError(t, err)

		assert.Equal(t, "http://localhost:11434", svc.baseURL)
		assert.Equal(t, 768, svc.Dimensions())
		assert.Equal(t, ProviderOllama, svc.Provider())
		assert.Equal(t, "nomic-embed-text", svc.ModelName())
		assert.Equal(t, "ollama:nomic-embed-text", ServiceTag(svc))
	})

	t.Run("with custom URL", func(t *testing.T) {
		svc, err := NewOllamaService("http://custom:8080/", "mxbai-embed-large")
		require.NoError(t, err)

		assert.Equal(t, "http://custom:8080", svc.baseURL) // trailing slash removed
		assert.Equal(t, 1024, svc.Dimensions())
	})

	t.Run("requires a model", func(t *testing.T) {
		_, err := NewOllamaService("", "")
		assert.Error(t, err)
	})
}

// TestOllamaTaskPrefixes tests task prefix application.
func TestOllamaTaskPrefixes(t *testing.T) {
	t.Run("nomic-embed-text prefixes", func(t *testing.T) {
		svc, _ := NewOllamaService("", "nomic-embed-text")

		assert.Equal(t, "search_document: test document", svc.applyPrefix("test document", false))
		assert.Equal(t, "search_query: test query", svc.applyPrefix("test query", true))
	})

	t.Run("unknown model has no prefix", func(t *testing.T) {
		svc, _ := NewOllamaService("", "unknown-model")

		assert.Equal(t, "test", svc.applyPrefix("test", false))
		assert.Equal(t, "test", svc.applyPrefix("test", true))
	})
}

// mockOllamaServer simulates Ollama's /api/embeddings endpoint and counts requests.
func mockOllamaServer(t *testing.T, dims int, calls *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ollamaEmbedRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.NotEmpty(t, req.Model)
		assert.NotEmpty(t, req.Prompt)

		embedding := make([]float32, dims)
		for j := range embedding {
			embedding[j] = float32(len(req.Prompt)) * 0.1
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: embedding})
	}))
}

// TestOllamaEmbed tests the Ollama embedding methods with a mock server.
func TestOllamaEmbed(t *testing.T) {
	var calls atomic.Int32
	server := mockOllamaServer(t, 768, &calls)
	defer server.Close()

	svc, err := NewOllamaService(server.URL, "all-minilm", fastOpts...)
	require.NoError(t, err)

	t.Run("Embed single text", func(t *testing.T) {
		v, err := svc.Embed(context.Background(), "test document")
		require.NoError(t, err)

		assert.Len(t, v.Values, 768)
		assert.InDelta(t, float32(len("test document"))*0.1, v.Values[0], 1e-6)
		assert.Equal(t, "ollama:all-minilm", v.Model)
	})

	t.Run("EmbedQuery single text", func(t *testing.T) {
		v, err := svc.EmbedQuery(context.Background(), "test query")
		require.NoError(t, err)
		assert.Len(t, v.Values, 768)
	})

	t.Run("blank text never reaches the backend", func(t *testing.T) {
		before := calls.Load()
		for _, text := range []string{"", "   ", "\n\t\n"} {
			v, err := svc.Embed(context.Background(), text)
			require.NoError(t, err)
			assert.True(t, v.IsEmpty())
		}
		assert.Equal(t, before, calls.Load())
	})
}

// TestOllamaErrorHandling tests error cases.
func TestOllamaErrorHandling(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("model not found"))
		}))
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "nomic-embed-text", fastOpts...)
		_, err := svc.Embed(context.Background(), "test")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 500")
		assert.Contains(t, err.Error(), "model not found")
	})

	t.Run("connection error", func(t *testing.T) {
		svc, _ := NewOllamaService("http://127.0.0.1:1", "nomic-embed-text", fastOpts...)
		_, err := svc.Embed(context.Background(), "test")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to make request")
	})

	t.Run("invalid JSON response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "nomic-embed-text", fastOpts...)
		_, err := svc.Embed(context.Background(), "test")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode response")
	})

	t.Run("empty embedding array", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"embedding": []}`))
		}))
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "nomic-embed-text", fastOpts...)
		_, err := svc.Embed(context.Background(), "test")

		assert.ErrorIs(t, err, ErrEmptyEmbedding)
	})
}

func TestOllamaRetries(t *testing.T) {
	t.Run("transient failures are retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"embedding": [0.5, 0.5]}`))
		}))
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "m", WithRequestDelay(0), WithMaxRetries(2))
		v, err := svc.Embed(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5, 0.5}, v.Values)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "m", WithRequestDelay(0), WithMaxRetries(3))
		_, err := svc.Embed(context.Background(), "hello")
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestOllamaTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	svc, _ := NewOllamaService(server.URL, "m", WithRequestDelay(0), WithMaxRetries(0), WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := svc.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRequestDelayIsShared(t *testing.T) {
	var calls atomic.Int32
	server := mockOllamaServer(t, 4, &calls)
	defer server.Close()

	svc, _ := NewOllamaService(server.URL, "m", WithRequestDelay(30*time.Millisecond), WithMaxRetries(0))

	start := time.Now()
	_, errs := EmbedAll(context.Background(), svc, []string{"a", "b", "c", "d"}, 4)
	for _, err := range errs {
		require.NoError(t, err)
	}

	// Four requests through one limiter need at least three intervals, even
	// with four concurrent workers.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, int32(4), calls.Load())
}

// TestOllamaDimensionUpdate tests that dimensions are updated from response.
func TestOllamaDimensionUpdate(t *testing.T) {
	var calls atomic.Int32
	server := mockOllamaServer(t, 512, &calls)
	defer server.Close()

	svc, _ := NewOllamaService(server.URL, "nomic-embed-text", fastOpts...)
	assert.Equal(t, 768, svc.Dimensions())

	_, err := svc.Embed(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, 512, svc.Dimensions())
}

// TestNewOpenAIService tests OpenAI service creation.
func TestNewOpenAIService(t *testing.T) {
	t.Run("requires API key", func(t *testing.T) {
		_, err := NewOpenAIService("", "text-embedding-3-small", "", 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "API key is required")
	})

	t.Run("known model dimensions", func(t *testing.T) {
		svc, err := NewOpenAIService("sk-test", "text-embedding-3-small", "", 0)
		require.NoError(t, err)
		assert.Equal(t, 1536, svc.Dimensions())
		assert.Equal(t, ProviderOpenAI, svc.Provider())
	})

	t.Run("explicit dimensions", func(t *testing.T) {
		svc, err := NewOpenAIService("sk-test", "text-embedding-3-large", "", 512)
		require.NoError(t, err)
		assert.Equal(t, 512, svc.Dimensions())
	})
}

func TestOpenAIEmbed(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"), r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text-embedding-3-small", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"data": [{"object": "embedding", "index": 0, "embedding": [0.5, 0.25, -0.25]}],
			"model": "text-embedding-3-small",
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`))
	}))
	defer server.Close()

	svc, err := NewOpenAIService("sk-test", "text-embedding-3-small", server.URL+"/", 0, fastOpts...)
	require.NoError(t, err)

	v, err := svc.Embed(context.Background(), "chapter one")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25, -0.25}, v.Values)
	assert.Equal(t, "openai:text-embedding-3-small", v.Model)
	assert.Equal(t, 3, svc.Dimensions())

	v, err = svc.EmbedQuery(context.Background(), "  ")
	require.NoError(t, err)
	assert.True(t, v.IsEmpty())
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIErrorStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "bad key", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	svc, err := NewOpenAIService("sk-bad", "text-embedding-3-small", server.URL+"/", 0, WithRequestDelay(0), WithMaxRetries(2))
	require.NoError(t, err)

	_, err = svc.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), calls.Load())
}

// TestNewService tests the factory function.
func TestNewService(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Embeddings.Provider = config.ProviderLocal

		svc, err := NewService(cfg)
		require.NoError(t, err)
		assert.Equal(t, ProviderLocal, svc.Provider())
		assert.Equal(t, config.DefaultLocalEmbedModel, svc.ModelName())
		assert.Equal(t, 384, svc.Dimensions())
	})

	t.Run("ollama", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Embeddings.Provider = config.ProviderOllama

		svc, err := NewService(cfg)
		require.NoError(t, err)
		assert.Equal(t, ProviderOllama, svc.Provider())
		assert.Equal(t, "nomic-embed-text", svc.ModelName())
	})

	t.Run("openai without key fails", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Embeddings.Provider = config.ProviderOpenAI

		_, err := NewService(cfg)
		assert.Error(t, err)
	})

	t.Run("auto wraps remote and local", func(t *testing.T) {
		cfg := config.DefaultConfig()

		svc, err := NewService(cfg)
		require.NoError(t, err)

		fb, ok := svc.(*FallbackService)
		require.True(t, ok)
		assert.Equal(t, ProviderAuto, fb.Provider())
		assert.Equal(t, ProviderOllama, fb.Primary().Provider())
		assert.Equal(t, ProviderLocal, fb.Secondary().Provider())
		assert.Equal(t, "ollama:nomic-embed-text", ServiceTag(svc))
	})

	t.Run("auto degrades to local when remote cannot be built", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Embeddings.Remote = config.ProviderOpenAI

		svc, err := NewService(cfg)
		require.NoError(t, err)
		assert.Equal(t, ProviderLocal, svc.Provider())
	})

	t.Run("unsupported provider", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Embeddings.Provider = "unsupported"

		_, err := NewService(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported embedding provider")
	})
}

// TestContextCancellation tests that operations respect context cancellation.
func TestContextCancellation(t *testing.T) {
	var calls atomic.Int32
	server := mockOllamaServer(t, 4, &calls)
	defer server.Close()

	svc, _ := NewOllamaService(server.URL, "nomic-embed-text", fastOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Embed(ctx, "test")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), calls.Load())
}
