package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"regsearch/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 10, cfg.SearchTopK)
	assert.Equal(t, "config/rules.yaml", cfg.RegistryPath)
	assert.Equal(t, "gemini-embedding-001", cfg.EmbeddingModel)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "500")
	t.Setenv("CHUNK_OVERLAP", "50")
	t.Setenv("SEARCH_TOP_K", "3")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 50, cfg.ChunkOverlap)
	assert.Equal(t, 3, cfg.SearchTopK)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{"Valid Defaults", func(c *config.Config) {}, false},
		{"Missing Registry Path", func(c *config.Config) { c.RegistryPath = "" }, true},
		{"Zero Chunk Size", func(c *config.Config) { c.ChunkSize = 0 }, true},
		{"Overlap Equals Size", func(c *config.Config) { c.ChunkOverlap = c.ChunkSize }, true},
		{"Negative Overlap", func(c *config.Config) { c.ChunkOverlap = -1 }, true},
		{"Zero Batch Size", func(c *config.Config) { c.EmbedBatchSize = 0 }, true},
		{"Zero Concurrency", func(c *config.Config) { c.IngestionConcurrency = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
