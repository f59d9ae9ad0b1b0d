package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/docsearch/config"
)

func TestNewEmbedderRequiresOpenAIKey(t *testing.T) {
	_, err := NewEmbedder(config.Config{Embeddings: config.EmbeddingsConfig{Provider: config.ProviderOpenAI}})
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNewEmbedderRejectsUnknownProvider(t *testing.T) {
	_, err := NewEmbedder(config.Config{Embeddings: config.EmbeddingsConfig{Provider: "acme"}})
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestNewEmbedderOllama(t *testing.T) {
	e, err := NewEmbedder(config.Config{Embeddings: config.EmbeddingsConfig{Provider: config.ProviderOllama, Model: "nomic-embed-text"}})
	require.NoError(t, err)
	require.NotNil(t, e)
}

func TestOllamaEmbedderChecksDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float64{0.1, 0.2}})
	}))
	defer srv.Close()

	ok := NewOllamaEmbedder(Options{OllamaHost: srv.URL, Dimension: 2})
	vecs, err := ok.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.InDelta(t, 0.2, vecs[1][1], 1e-6)

	mismatch := NewOllamaEmbedder(Options{OllamaHost: srv.URL, Dimension: 3})
	_, err = mismatch.Embed(context.Background(), []string{"a"})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}
