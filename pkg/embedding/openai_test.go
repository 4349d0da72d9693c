package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	client *openai.Client
	err    error
}

func (p staticProvider) Client() (*openai.Client, error) {
	return p.client, p.err
}

type embeddingServer struct {
	dims     int
	reverse  bool
	requests atomic.Int32
	sizes    []int
}

func (s *embeddingServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		s.requests.Add(1)

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		s.sizes = append(s.sizes, len(req.Input))

		data := make([]map[string]any, 0, len(req.Input))
		for i, input := range req.Input {
			vector := make([]float32, s.dims)
			vector[0] = float32(len(input))
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": vector})
		}
		if s.reverse {
			for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
				data[i], data[j] = data[j], data[i]
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}
}

func newTestEmbedder(t *testing.T, server *httptest.Server, dims, batch int) *OpenAIEmbedder {
	t.Helper()
	config := openai.DefaultConfig("test-key")
	config.BaseURL = server.URL + "/v1"
	embedder, err := NewOpenAIEmbedder(staticProvider{client: openai.NewClientWithConfig(config)}, Config{
		Model:         "text-embedding-3-small",
		Dimensions:    dims,
		BatchSize:     batch,
		MaxInputChars: 5,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	return embedder
}

func TestEmbedBatchesAndPreservesOrder(t *testing.T) {
	backend := &embeddingServer{dims: 4, reverse: true}
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	embedder := newTestEmbedder(t, server, 4, 2)
	vectors, err := embedder.Embed(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeeeeeeee"})
	require.NoError(t, err)

	require.Equal(t, int32(3), backend.requests.Load())
	require.Equal(t, []int{2, 2, 1}, backend.sizes)
	require.Len(t, vectors, 5)
	for i, want := range []float32{1, 2, 3, 4, 5} {
		require.Equal(t, want, vectors[i][0], "vector %d", i)
		require.Len(t, vectors[i], 4)
	}
	require.Equal(t, 4, embedder.Dimension())
}

func TestEmbedRejectsDimensionMismatch(t *testing.T) {
	backend := &embeddingServer{dims: 3}
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	embedder := newTestEmbedder(t, server, 8, 16)
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEmbedFailsWholeCallOnBatchError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 2 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		(&embeddingServer{dims: 2}).handler(t)(w, r)
	}))
	defer server.Close()

	embedder := newTestEmbedder(t, server, 2, 1)
	vectors, err := embedder.Embed(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)
	require.Nil(t, vectors)
}

func TestEmbedPropagatesProviderError(t *testing.T) {
	missing := errors.New("no key")
	embedder, err := NewOpenAIEmbedder(staticProvider{err: missing}, Config{Dimensions: 4, Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), []string{"a"})
	require.ErrorIs(t, err, missing)
}

func TestEmbedEmptyInput(t *testing.T) {
	embedder, err := NewOpenAIEmbedder(staticProvider{err: errors.New("unused")}, Config{Dimensions: 4})
	require.NoError(t, err)

	vectors, err := embedder.Embed(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, vectors)
}
