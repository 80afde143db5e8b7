package build

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"regsearch/internal/index"
	"regsearch/internal/middleware"
	"regsearch/internal/registry"
	"regsearch/internal/reindex"
)

type Controller interface {
	Run(ctx context.Context, force bool) (*index.BuildReport, error)
	Current() *registry.Snapshot
}

type Handler struct {
	controller Controller
}

func NewHandler(controller Controller) *Handler {
	return &Handler{controller: controller}
}

// SourceView is the read-only listing shape for one registry entry.
type SourceView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	ContentType string `json:"content_type"`
	Enabled     bool   `json:"enabled"`
	Priority    int    `json:"priority"`
	Provenance  string `json:"provenance"`
}

func (h *Handler) Build(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(ctx, w, "VALIDATION_ERROR", "force must be a boolean", http.StatusBadRequest)
			return
		}
		force = parsed
	}

	slog.InfoContext(ctx, "build requested", "force", force, "correlationId", correlationID)

	report, err := h.controller.Run(ctx, force)
	if err != nil {
		switch {
		case errors.Is(err, reindex.ErrBuildInProgress):
			h.writeError(ctx, w, "CONFLICT", err.Error(), http.StatusConflict)
		case errors.Is(err, registry.ErrConfig):
			h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		default:
			slog.ErrorContext(ctx, "build failed", "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": report}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap := h.controller.Current()
	if snap == nil {
		h.writeError(ctx, w, "UNAVAILABLE", "no registry snapshot loaded", http.StatusServiceUnavailable)
		return
	}

	views := []SourceView{}
	for _, src := range snap.Sources {
		views = append(views, SourceView{
			ID:          src.ID,
			DisplayName: src.DisplayName,
			ContentType: string(src.ContentType),
			Enabled:     src.Enabled,
			Priority:    src.Priority,
			Provenance:  string(src.Provenance),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": views,
		"meta": map[string]int{"count": len(views)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
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
