package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"regsearch/internal/registry"
)

// ErrUnavailable means the vector store could not be reached. Callers should
// distinguish it from an empty result, which is a normal answer meaning no
// relevant regulation was found.
var ErrUnavailable = errors.New("retrieval unavailable")

// ScoredChunk is a raw similarity hit from the vector store.
type ScoredChunk struct {
	SourceID    string
	ChunkIndex  int
	Content     string
	Certainty   float32
	StartOffset int
	EndOffset   int
	DisplayName string
	Provenance  string
}

// Result is one ranked retrieval answer.
type Result struct {
	SourceID    string  `json:"source_id"`
	ChunkIndex  int     `json:"chunk_index"`
	Content     string  `json:"content"`
	Score       float32 `json:"score"`
	Priority    int     `json:"priority"`
	Provenance  string  `json:"provenance"`
	DisplayName string  `json:"display_name"`
	StartOffset int     `json:"start_offset"`
	EndOffset   int     `json:"end_offset"`
	Rank        int     `json:"rank"`
}

type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	Query(ctx context.Context, vector []float32, limit int, sourceIDs []string, minCertainty float32) ([]ScoredChunk, error)
}

// SnapshotProvider hands out the registry snapshot committed by the last
// successful build.
type SnapshotProvider interface {
	Current() *registry.Snapshot
}

type Options struct {
	// DefaultTopK applies when the caller passes topK <= 0.
	DefaultTopK int
	// MinCertainty is the relevance floor; hits below it are dropped, and an
	// empty result set is returned rather than padding with weak matches.
	MinCertainty float32
	// Epsilon is the width of the similarity band inside which two hits count
	// as tied and source priority decides.
	Epsilon float32
	// ChunkOverlap must match the overlap the index was built with, so
	// adjacent chunks merge without duplicated text.
	ChunkOverlap int
}

type Service struct {
	embedder  Embedder
	store     VectorStore
	snapshots SnapshotProvider
	logger    *QueryLogger
	opts      Options
}

func NewService(e Embedder, s VectorStore, snap SnapshotProvider, l *QueryLogger, opts Options) *Service {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 10
	}
	return &Service{embedder: e, store: s, snapshots: snap, logger: l, opts: opts}
}

// Retrieve answers a query with at most topK ranked chunks from enabled
// sources, optionally restricted to sourceFilter. It is read-only and safe
// for unbounded concurrent use.
func (s *Service) Retrieve(ctx context.Context, query string, topK int, sourceFilter []string) ([]Result, error) {
	start := time.Now()
	if topK <= 0 {
		topK = s.opts.DefaultTopK
	}

	snap := s.snapshots.Current()
	if snap == nil {
		return nil, fmt.Errorf("%w: no registry snapshot loaded", ErrUnavailable)
	}

	sourceIDs := snap.EnabledIDs(sourceFilter)
	if len(sourceIDs) == 0 {
		return nil, nil
	}

	var vec []float32
	embed := func() error {
		var err error
		vec, err = s.embedder.EmbedQuery(ctx, query)
		return err
	}
	// Query embeddings get one quick retry round; provider rate limits are
	// usually momentary.
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(embed, policy); err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// Over-fetch so adjacent-chunk merging cannot leave the caller short.
	scored, err := s.store.Query(ctx, vec, topK*2, sourceIDs, s.opts.MinCertainty)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	results := s.toResults(snap, scored)
	Rank(results, s.opts.Epsilon)
	results = MergeRuns(results, s.opts.ChunkOverlap)
	Rank(results, s.opts.Epsilon)

	if len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}

	if s.logger != nil {
		s.logger.Log(QueryLogEntry{
			Query:      query,
			TopK:       topK,
			NumResults: len(results),
			Duration:   time.Since(start),
		})
	}
	return results, nil
}

// toResults attaches registry precedence to raw hits and drops anything whose
// source is not in the current snapshot's enabled set, even if its vectors
// still linger in the store.
func (s *Service) toResults(snap *registry.Snapshot, scored []ScoredChunk) []Result {
	var results []Result
	for _, sc := range scored {
		src, ok := snap.Get(sc.SourceID)
		if !ok || !src.Enabled {
			continue
		}
		if sc.Certainty < s.opts.MinCertainty {
			continue
		}
		results = append(results, Result{
			SourceID:    sc.SourceID,
			ChunkIndex:  sc.ChunkIndex,
			Content:     sc.Content,
			Score:       sc.Certainty,
			Priority:    src.Priority,
			Provenance:  sc.Provenance,
			DisplayName: sc.DisplayName,
			StartOffset: sc.StartOffset,
			EndOffset:   sc.EndOffset,
		})
	}
	return results
}
