package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"regsearch/internal/registry"
	"regsearch/internal/text"
	"regsearch/internal/tracker"
)

// ErrEmbedding marks an embedding failure that survived every retry.
var ErrEmbedding = errors.New("embedding provider failed")

// Phase names the stage a build is in, reported through the PhaseHook.
type Phase string

const (
	PhaseChunking   Phase = "chunking"
	PhaseEmbedding  Phase = "embedding"
	PhaseCommitting Phase = "committing"
)

// IndexedChunk is a chunk plus its embedding and source metadata, ready to
// be upserted into the vector store.
type IndexedChunk struct {
	SourceID    string
	ChunkIndex  int
	Content     string
	ContentHash string
	StartOffset int
	EndOffset   int
	DisplayName string
	Provenance  string
	Vector      []float32
}

type ContentLoader interface {
	Load(ctx context.Context, src registry.RuleSource) (string, error)
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorStore interface {
	UpsertChunks(ctx context.Context, chunks []IndexedChunk) error
	DeleteSource(ctx context.Context, sourceID string) error
	DeleteFromIndex(ctx context.Context, sourceID string, fromIndex int) error
}

type Tracker interface {
	Get(ctx context.Context, sourceID string) (*tracker.State, error)
	Upsert(ctx context.Context, s tracker.State) error
	Delete(ctx context.Context, sourceID string) error
	List(ctx context.Context) ([]tracker.State, error)
}

type Options struct {
	ChunkSize     int
	ChunkOverlap  int
	BatchSize     int
	RetryAttempts int
	Concurrency   int
}

type Builder struct {
	loader   ContentLoader
	embedder Embedder
	store    VectorStore
	tracker  Tracker
	opts     Options

	// PhaseHook, when set, is called once per phase transition.
	PhaseHook func(Phase)
}

func NewBuilder(l ContentLoader, e Embedder, s VectorStore, t Tracker, opts Options) *Builder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 4
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Builder{loader: l, embedder: e, store: s, tracker: t, opts: opts}
}

// candidate is a source that passed the staleness check and is headed for
// embedding and commit.
type candidate struct {
	src      registry.RuleSource
	docHash  string
	chunks   []text.Chunk
	vectors  [][]float32
	existing bool
	err      error
}

// Build indexes every enabled source in the snapshot. Non-forced builds skip
// sources whose committed content hash matches the freshly loaded document;
// forced builds re-embed everything. Sources that are disabled or gone from
// the registry are purged immediately, on both modes. Per-source failures are
// recorded in the report and never abort the rest of the build.
func (b *Builder) Build(ctx context.Context, snap *registry.Snapshot, force bool) (*BuildReport, error) {
	report := &BuildReport{StartedAt: time.Now(), Forced: force}
	defer func() { report.Duration = time.Since(report.StartedAt) }()

	if err := b.purgeObsolete(ctx, snap, report); err != nil {
		return report, err
	}

	b.phase(PhaseChunking)
	candidates := b.collect(ctx, snap, force, report)

	b.phase(PhaseEmbedding)
	if err := b.embedAll(ctx, candidates); err != nil {
		return report, err
	}

	b.phase(PhaseCommitting)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		b.commit(ctx, c, report)
	}

	return report, nil
}

func (b *Builder) phase(p Phase) {
	if b.PhaseHook != nil {
		b.PhaseHook(p)
	}
}

// purgeObsolete deletes vectors and tracked state for every source that is no
// longer enabled. Disabling a source takes effect on the next build, whatever
// its mode, so retrieval cannot surface retired regulations.
func (b *Builder) purgeObsolete(ctx context.Context, snap *registry.Snapshot, report *BuildReport) error {
	states, err := b.tracker.List(ctx)
	if err != nil {
		return fmt.Errorf("listing tracked sources: %w", err)
	}

	enabled := make(map[string]bool)
	for _, src := range snap.Enabled() {
		enabled[src.ID] = true
	}

	for _, st := range states {
		if enabled[st.SourceID] {
			continue
		}
		if err := b.store.DeleteSource(ctx, st.SourceID); err != nil {
			return fmt.Errorf("purging vectors for %s: %w", st.SourceID, err)
		}
		if err := b.tracker.Delete(ctx, st.SourceID); err != nil {
			return fmt.Errorf("purging state for %s: %w", st.SourceID, err)
		}
		report.Removed++
		slog.InfoContext(ctx, "purged source from index", "source_id", st.SourceID)
	}
	return nil
}

func (b *Builder) collect(ctx context.Context, snap *registry.Snapshot, force bool, report *BuildReport) []*candidate {
	var candidates []*candidate

	for _, src := range snap.Enabled() {
		content, err := b.loader.Load(ctx, src)
		if err != nil {
			slog.ErrorContext(ctx, "failed to load source", "source_id", src.ID, "path", src.Path, "error", err)
			report.record(SourceResult{SourceID: src.ID, Status: StatusFailed, Error: err.Error()})
			continue
		}

		docHash := text.Hash(content)
		prev, err := b.tracker.Get(ctx, src.ID)
		existing := err == nil

		if !force && existing && prev.ContentHash == docHash {
			report.record(SourceResult{SourceID: src.ID, Status: StatusSkipped, Chunks: prev.ChunkCount})
			continue
		}

		chunks, err := text.Split(content, b.opts.ChunkSize, b.opts.ChunkOverlap)
		if errors.Is(err, text.ErrEmptyDocument) {
			slog.WarnContext(ctx, "source is empty, skipping", "source_id", src.ID)
			report.record(SourceResult{SourceID: src.ID, Status: StatusSkipped, Error: err.Error()})
			continue
		}
		if err != nil {
			report.record(SourceResult{SourceID: src.ID, Status: StatusFailed, Error: err.Error()})
			continue
		}

		candidates = append(candidates, &candidate{src: src, docHash: docHash, chunks: chunks, existing: existing})
	}

	return candidates
}

// embedAll computes embeddings for every candidate, bounded to
// opts.Concurrency sources in flight. A candidate whose embedding fails keeps
// the error and is reported at commit time; it never stops its siblings.
func (b *Builder) embedAll(ctx context.Context, candidates []*candidate) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Concurrency)

	for _, c := range candidates {
		g.Go(func() error {
			vectors, err := b.embedChunks(gctx, c.chunks)
			if err != nil {
				c.err = fmt.Errorf("%w: %v", ErrEmbedding, err)
			} else {
				c.vectors = vectors
			}
			// Only context cancellation propagates; provider failures stay
			// per-source.
			return gctx.Err()
		})
	}

	return g.Wait()
}

func (b *Builder) embedChunks(ctx context.Context, chunks []text.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))

	for start := 0; start < len(chunks); start += b.opts.BatchSize {
		end := start + b.opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		var batch [][]float32
		op := func() error {
			var err error
			batch, err = b.embedder.EmbedBatch(ctx, texts)
			return err
		}
		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(b.opts.RetryAttempts-1)),
			ctx,
		)
		if err := backoff.Retry(op, policy); err != nil {
			return nil, err
		}

		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

// commit writes one source's chunks and state. Order matters: vectors first
// (idempotent upserts under stable IDs), then the stale tail delete, then the
// tracker row. A failure before the tracker write leaves the old state in
// place, so the next build retries the source.
func (b *Builder) commit(ctx context.Context, c *candidate, report *BuildReport) {
	fail := func(err error) {
		slog.ErrorContext(ctx, "source build failed", "source_id", c.src.ID, "error", err)
		report.record(SourceResult{SourceID: c.src.ID, Status: StatusFailed, Chunks: len(c.chunks), Error: err.Error()})
	}

	if c.err != nil {
		fail(c.err)
		return
	}

	indexed := make([]IndexedChunk, 0, len(c.chunks))
	for i, chunk := range c.chunks {
		indexed = append(indexed, IndexedChunk{
			SourceID:    c.src.ID,
			ChunkIndex:  chunk.Index,
			Content:     chunk.Text,
			ContentHash: chunk.ContentHash,
			StartOffset: chunk.StartOffset,
			EndOffset:   chunk.EndOffset,
			DisplayName: c.src.DisplayName,
			Provenance:  string(c.src.Provenance),
			Vector:      c.vectors[i],
		})
	}

	if err := b.store.UpsertChunks(ctx, indexed); err != nil {
		fail(err)
		return
	}
	if err := b.store.DeleteFromIndex(ctx, c.src.ID, len(c.chunks)); err != nil {
		fail(err)
		return
	}
	if err := b.tracker.Upsert(ctx, tracker.State{
		SourceID:    c.src.ID,
		ContentHash: c.docHash,
		ChunkCount:  len(c.chunks),
		Status:      tracker.StatusIndexed,
	}); err != nil {
		fail(err)
		return
	}

	status := StatusAdded
	if c.existing {
		status = StatusUpdated
	}
	report.record(SourceResult{SourceID: c.src.ID, Status: status, Chunks: len(c.chunks)})
	slog.InfoContext(ctx, "source committed", "source_id", c.src.ID, "chunks", len(c.chunks), "status", status)
}
