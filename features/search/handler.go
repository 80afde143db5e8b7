package search

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"regsearch/internal/middleware"
	"regsearch/internal/retrieval"
)

type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, sourceFilter []string) ([]retrieval.Result, error)
}

type Handler struct {
	retriever Retriever
}

func NewHandler(retriever Retriever) *Handler {
	return &Handler{retriever: retriever}
}

// Attribution names one distinct source that contributed to the answer, with
// the best confidence any of its chunks reached.
type Attribution struct {
	SourceID    string  `json:"source_id"`
	DisplayName string  `json:"display_name"`
	Provenance  string  `json:"provenance"`
	Confidence  float32 `json:"confidence"`
}

type SearchResponse struct {
	Query        string             `json:"query"`
	Results      []retrieval.Result `json:"results"`
	Attributions []Attribution      `json:"attributions"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Query   string   `json:"query"`
		TopK    int      `json:"top_k"`
		Sources []string `json:"sources"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		h.writeError(ctx, w, "VALIDATION_ERROR", "query is required", http.StatusBadRequest)
		return
	}
	if req.TopK < 0 {
		h.writeError(ctx, w, "VALIDATION_ERROR", "top_k must not be negative", http.StatusBadRequest)
		return
	}

	results, err := h.retriever.Retrieve(ctx, req.Query, req.TopK, req.Sources)
	if err != nil {
		if errors.Is(err, retrieval.ErrUnavailable) {
			h.writeError(ctx, w, "UNAVAILABLE", "search is temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		slog.ErrorContext(ctx, "search failed", "error", err, "correlationId", middleware.GetCorrelationID(ctx))
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// Empty means no relevant regulation, which is a valid answer.
	if results == nil {
		results = []retrieval.Result{}
	}

	resp := SearchResponse{
		Query:        req.Query,
		Results:      results,
		Attributions: attributions(results),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// attributions collapses ranked results into one entry per source, in rank
// order, carrying each source's best score.
func attributions(results []retrieval.Result) []Attribution {
	out := []Attribution{}
	index := make(map[string]int)
	for _, res := range results {
		if i, seen := index[res.SourceID]; seen {
			if res.Score > out[i].Confidence {
				out[i].Confidence = res.Score
			}
			continue
		}
		index[res.SourceID] = len(out)
		out = append(out, Attribution{
			SourceID:    res.SourceID,
			DisplayName: res.DisplayName,
			Provenance:  res.Provenance,
			Confidence:  res.Score,
		})
	}
	return out
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
