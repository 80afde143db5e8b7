package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"regsearch/internal/config"
	"regsearch/internal/index"
	"regsearch/internal/retrieval"
)

type MockVectorStore struct{ mock.Mock }

func (m *MockVectorStore) UpsertChunks(ctx context.Context, chunks []index.IndexedChunk) error {
	args := m.Called(ctx, chunks)
	return args.Error(0)
}

func (m *MockVectorStore) DeleteSource(ctx context.Context, sourceID string) error {
	args := m.Called(ctx, sourceID)
	return args.Error(0)
}

func (m *MockVectorStore) DeleteFromIndex(ctx context.Context, sourceID string, fromIndex int) error {
	args := m.Called(ctx, sourceID, fromIndex)
	return args.Error(0)
}

func (m *MockVectorStore) Query(ctx context.Context, vector []float32, limit int, sourceIDs []string, minCertainty float32) ([]retrieval.ScoredChunk, error) {
	args := m.Called(ctx, vector, limit, sourceIDs, minCertainty)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]retrieval.ScoredChunk), args.Error(1)
}

func (m *MockVectorStore) CountChunks(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func testConfig(t *testing.T, registryPath string) *config.Config {
	t.Helper()
	return &config.Config{
		RegistryPath:         registryPath,
		QueryLogPath:         filepath.Join(t.TempDir(), "query.log"),
		ChunkSize:            1000,
		ChunkOverlap:         200,
		EmbedBatchSize:       100,
		EmbedRetryAttempts:   2,
		IngestionConcurrency: 2,
		SearchTopK:           10,
		MinCertainty:         0.25,
		ScoreEpsilon:         0.01,
		EmbeddingModel:       "gemini-embedding-001",
		ServerPort:           8081,
	}
}

func writeTestRegistry(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `
sources:
  - id: gov-employment
    display_name: "Government Employment Act"
    path: docs/gov-employment.md
    content_type: markdown
    enabled: true
    priority: 1
    provenance: government
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestApp(t *testing.T, registryPath string) (*App, *MockVectorStore, *MockEmbedder) {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := new(MockVectorStore)
	embedder := new(MockEmbedder)

	application, err := New(testConfig(t, registryPath), db, store, embedder, nil)
	require.NoError(t, err)
	return application, store, embedder
}

func TestNew_HealthRoute(t *testing.T) {
	application, _, _ := newTestApp(t, writeTestRegistry(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	application.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestNew_SourcesServedFromPrimedRegistry(t *testing.T) {
	application, _, _ := newTestApp(t, writeTestRegistry(t))

	req := httptest.NewRequest(http.MethodGet, "/sources", nil)
	rec := httptest.NewRecorder()
	application.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gov-employment")
}

func TestNew_SearchRouteWired(t *testing.T) {
	application, store, embedder := newTestApp(t, writeTestRegistry(t))

	vec := []float32{0.1, 0.2}
	embedder.On("EmbedQuery", mock.Anything, "annual leave").Return(vec, nil)
	store.On("Query", mock.Anything, vec, mock.Anything, []string{"gov-employment"}, mock.Anything).
		Return([]retrieval.ScoredChunk{
			{SourceID: "gov-employment", ChunkIndex: 0, Content: "statute", Certainty: 0.8},
		}, nil)

	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewBufferString(`{"query":"annual leave"}`))
	rec := httptest.NewRecorder()
	application.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "statute")
}

func TestNew_MissingRegistryStartsDegraded(t *testing.T) {
	application, _, _ := newTestApp(t, filepath.Join(t.TempDir(), "missing.yaml"))

	// No snapshot means search reports unavailable instead of serving stale data.
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewBufferString(`{"query":"leave"}`))
	rec := httptest.NewRecorder()
	application.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
