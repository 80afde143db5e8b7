package config

import (
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"regsearch"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"regsearch"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQDHost string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`

	// Registry of rule sources, reloaded at the start of each build.
	RegistryPath string `envconfig:"REGISTRY_PATH" default:"config/rules.yaml"`

	// Chunking (characters, not tokens)
	ChunkSize    int `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"200"`

	// Indexing
	EmbedBatchSize       int `envconfig:"EMBED_BATCH_SIZE" default:"100"`
	EmbedRetryAttempts   int `envconfig:"EMBED_RETRY_ATTEMPTS" default:"4"`
	IngestionConcurrency int `envconfig:"INGESTION_CONCURRENCY" default:"4"`

	// Retrieval
	SearchTopK    int     `envconfig:"SEARCH_TOP_K" default:"10"`
	MinCertainty  float32 `envconfig:"MIN_CERTAINTY" default:"0.25"`
	ScoreEpsilon  float32 `envconfig:"SCORE_EPSILON" default:"0.01"`
	QueryLogPath  string  `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Server
	ServerPort int `envconfig:"SERVER_PORT" default:"8081"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may be set in the shell; a missing .env is not an error.
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.RegistryPath == "" {
		return fmt.Errorf("%w: REGISTRY_PATH", ErrMissingRequired)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("invalid CHUNK_SIZE %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("invalid CHUNK_OVERLAP %d for CHUNK_SIZE %d", c.ChunkOverlap, c.ChunkSize)
	}
	if c.EmbedBatchSize <= 0 {
		return fmt.Errorf("invalid EMBED_BATCH_SIZE %d", c.EmbedBatchSize)
	}
	if c.IngestionConcurrency <= 0 {
		return fmt.Errorf("invalid INGESTION_CONCURRENCY %d", c.IngestionConcurrency)
	}
	return nil
}
