package gemini_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"regsearch/internal/adapter/gemini"
)

func newTestEmbedder(t *testing.T, handler http.HandlerFunc) (*gemini.Embedder, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)

	embedder, err := gemini.NewEmbedder(context.Background(), "test-key", "gemini-embedding-001",
		option.WithEndpoint(ts.URL))
	require.NoError(t, err)
	return embedder, ts
}

func TestEmbedder_EmbedQuery(t *testing.T) {
	embedder, ts := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.Path, "embedContent"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": map[string]interface{}{
				"values": []float32{0.1, 0.2, 0.3},
			},
		})
	})
	defer ts.Close()

	vec, err := embedder.EmbedQuery(context.Background(), "annual leave")
	require.NoError(t, err)
	if assert.Len(t, vec, 3) {
		assert.Equal(t, float32(0.1), vec[0])
	}
}

func TestEmbedder_EmbedBatch(t *testing.T) {
	embedder, ts := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embeddings": []map[string]interface{}{
				{"values": []float32{0.1, 0.2}},
				{"values": []float32{0.3, 0.4}},
			},
		})
	})
	defer ts.Close()

	vecs, err := embedder.EmbedBatch(context.Background(), []string{"chunk one", "chunk two"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(0.3), vecs[1][0])
}

func TestEmbedder_EmbedBatch_CountMismatch(t *testing.T) {
	embedder, ts := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embeddings": []map[string]interface{}{
				{"values": []float32{0.1}},
			},
		})
	})
	defer ts.Close()

	_, err := embedder.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding count mismatch")
}

func TestEmbedder_EmbedBatch_Empty(t *testing.T) {
	embedder, ts := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an empty batch")
	})
	defer ts.Close()

	vecs, err := embedder.EmbedBatch(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, vecs)
}
