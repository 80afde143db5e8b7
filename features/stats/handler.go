package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"regsearch/internal/middleware"
	"regsearch/internal/reindex"
)

type TrackerRepo interface {
	Count(ctx context.Context) (int, error)
}

type VectorStore interface {
	CountChunks(ctx context.Context) (int, error)
}

type BuildStatus interface {
	Status() reindex.Status
}

type Handler struct {
	tracker     TrackerRepo
	vectorStore VectorStore
	builds      BuildStatus
	className   string
	model       string
}

func NewHandler(t TrackerRepo, v VectorStore, b BuildStatus, className, model string) *Handler {
	return &Handler{tracker: t, vectorStore: v, builds: b, className: className, model: model}
}

type StatsResponse struct {
	Sources       int           `json:"sources"`
	Chunks        int           `json:"chunks"`
	FailedSources int           `json:"failed_sources"`
	BuildState    reindex.State `json:"build_state"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	sCount, err := h.tracker.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count indexed sources", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count indexed sources", http.StatusInternalServerError)
		return
	}

	cCount, err := h.vectorStore.CountChunks(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count chunks", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count chunks", http.StatusInternalServerError)
		return
	}

	status := h.builds.Status()
	failed := 0
	if status.LastReport != nil {
		failed = status.LastReport.Failed
	}

	resp := StatsResponse{
		Sources:       sCount,
		Chunks:        cCount,
		FailedSources: failed,
		BuildState:    status.State,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

type InfoResponse struct {
	Collection     string `json:"collection"`
	EmbeddingModel string `json:"embedding_model"`
	Chunks         int    `json:"chunks"`
}

func (h *Handler) GetInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cCount, err := h.vectorStore.CountChunks(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count chunks", "error", err, "correlationId", middleware.GetCorrelationID(ctx))
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count chunks", http.StatusInternalServerError)
		return
	}

	resp := InfoResponse{
		Collection:     h.className,
		EmbeddingModel: h.model,
		Chunks:         cCount,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
