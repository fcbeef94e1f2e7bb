package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"homespark/harvester/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedder_Embed(t *testing.T) {
	var got embedContentRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/embedding-001:embedContent", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding":{"values":[0.25,-0.5,1]}}`))
	}))
	defer server.Close()

	embedder := NewEmbedder(config.EmbeddingConfig{BaseURL: server.URL, Model: "embedding-001", APIKey: "secret", Dimensions: 3})

	vector, err := embedder.Embed(context.Background(), "Уютная квартира\n45000000")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.5, 1}, vector)

	assert.Equal(t, "models/embedding-001", got.Model)
	require.Len(t, got.Content.Parts, 1)
	assert.Equal(t, "Уютная квартира\n45000000", got.Content.Parts[0].Text)
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding":{"values":[0.1,0.2]}}`))
	}))
	defer server.Close()

	embedder := NewEmbedder(config.EmbeddingConfig{BaseURL: server.URL, Model: "models/embedding-001", Dimensions: 768})

	_, err := embedder.Embed(context.Background(), "text")
	assert.ErrorContains(t, err, "expected 768")
}

func TestEmbedder_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	}))
	defer server.Close()

	embedder := NewEmbedder(config.EmbeddingConfig{BaseURL: server.URL, Model: "embedding-001"})

	_, err := embedder.Embed(context.Background(), "text")
	assert.ErrorContains(t, err, "API key not valid")
}

func TestEmbedder_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding":{}}`))
	}))
	defer server.Close()

	_, err := NewEmbedder(config.EmbeddingConfig{BaseURL: server.URL, Model: "embedding-001"}).Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrEmptyEmbedding)
}
