package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"regsearch/features/build"
	"regsearch/features/search"
	"regsearch/features/stats"
	"regsearch/internal/config"
	"regsearch/internal/index"
	"regsearch/internal/middleware"
	"regsearch/internal/registry"
	"regsearch/internal/reindex"
	"regsearch/internal/retrieval"
	"regsearch/internal/tracker"
	"regsearch/internal/vector"
)

// VectorStore is everything the app needs from the chunk store, satisfied by
// the weaviate adapter and mockable in tests.
type VectorStore interface {
	UpsertChunks(ctx context.Context, chunks []index.IndexedChunk) error
	DeleteSource(ctx context.Context, sourceID string) error
	DeleteFromIndex(ctx context.Context, sourceID string, fromIndex int) error
	Query(ctx context.Context, vector []float32, limit int, sourceIDs []string, minCertainty float32) ([]retrieval.ScoredChunk, error)
	CountChunks(ctx context.Context) (int, error)
}

type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type App struct {
	Handler    http.Handler
	Controller *reindex.Controller

	port int
}

func New(
	cfg *config.Config,
	db *sql.DB,
	vecStore VectorStore,
	embedder Embedder,
	pub reindex.EventPublisher,
) (*App, error) {

	// Index build pipeline
	trackerRepo := tracker.NewPostgresRepo(db)
	loader := &index.FileLoader{}
	builder := index.NewBuilder(loader, embedder, vecStore, trackerRepo, index.Options{
		ChunkSize:     cfg.ChunkSize,
		ChunkOverlap:  cfg.ChunkOverlap,
		BatchSize:     cfg.EmbedBatchSize,
		RetryAttempts: cfg.EmbedRetryAttempts,
		Concurrency:   cfg.IngestionConcurrency,
	})

	controller := reindex.NewController(cfg.RegistryPath, builder, pub)
	builder.PhaseHook = controller.OnPhase

	// Serve queries against the existing index right away; the snapshot is
	// replaced on the next successful build.
	if snap, err := registry.Load(cfg.RegistryPath); err != nil {
		slog.Warn("registry not loadable at startup, search unavailable until first build", "error", err)
	} else {
		controller.Prime(snap)
	}

	// Retrieval
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}

	retrievalService := retrieval.NewService(embedder, vecStore, controller, queryLogger, retrieval.Options{
		DefaultTopK:  cfg.SearchTopK,
		MinCertainty: cfg.MinCertainty,
		Epsilon:      cfg.ScoreEpsilon,
		ChunkOverlap: cfg.ChunkOverlap,
	})

	// Features
	searchHandler := search.NewHandler(retrievalService)
	buildHandler := build.NewHandler(controller)
	statsHandler := stats.NewHandler(trackerRepo, vecStore, controller, vector.ClassName, cfg.EmbeddingModel)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /search", middleware.CorrelationID(enableCORS(searchHandler.Search)))
	mux.Handle("POST /build", middleware.CorrelationID(enableCORS(buildHandler.Build)))
	mux.Handle("GET /sources", middleware.CorrelationID(enableCORS(buildHandler.ListSources)))
	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))
	mux.Handle("GET /info", middleware.CorrelationID(enableCORS(statsHandler.GetInfo)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:    mux,
		Controller: controller,
		port:       cfg.ServerPort,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
