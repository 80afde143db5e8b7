package tracker

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// State is the committed index state of one rule source: the content hash the
// vectors were built from and how many chunks went in. A hash mismatch
// against freshly loaded content marks the source stale.
type State struct {
	SourceID    string
	ContentHash string
	ChunkCount  int
	Status      string
	IndexedAt   time.Time
}

const (
	StatusIndexed = "indexed"
)

var ErrNotFound = errors.New("source state not found")

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context, sourceID string) (*State, error) {
	s := &State{}
	query := `SELECT source_id, content_hash, chunk_count, status, indexed_at FROM index_state WHERE source_id = $1`
	err := r.db.QueryRowContext(ctx, query, sourceID).Scan(&s.SourceID, &s.ContentHash, &s.ChunkCount, &s.Status, &s.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepo) Upsert(ctx context.Context, s State) error {
	query := `INSERT INTO index_state (source_id, content_hash, chunk_count, status, indexed_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (source_id) DO UPDATE SET content_hash = $2, chunk_count = $3, status = $4, indexed_at = NOW()`
	_, err := r.db.ExecContext(ctx, query, s.SourceID, s.ContentHash, s.ChunkCount, s.Status)
	return err
}

func (r *PostgresRepo) Delete(ctx context.Context, sourceID string) error {
	query := `DELETE FROM index_state WHERE source_id = $1`
	_, err := r.db.ExecContext(ctx, query, sourceID)
	return err
}

func (r *PostgresRepo) List(ctx context.Context) ([]State, error) {
	query := `SELECT source_id, content_hash, chunk_count, status, indexed_at FROM index_state ORDER BY source_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []State
	for rows.Next() {
		var s State
		if err := rows.Scan(&s.SourceID, &s.ContentHash, &s.ChunkCount, &s.Status, &s.IndexedAt); err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM index_state`).Scan(&count)
	return count, err
}
