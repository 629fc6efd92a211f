package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Rewind/internal/domain/models"
	domrepo "Rewind/internal/domain/repository"

	"github.com/jmoiron/sqlx"
)

// PostgresSchema creates the experiments table. The full result is kept as
// JSONB next to the summary columns used for listing.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS experiments (
		id                  TEXT PRIMARY KEY,
		market_slug         TEXT NOT NULL,
		status              TEXT NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL,
		completed_at        TIMESTAMPTZ NOT NULL,
		total_intervals     INTEGER NOT NULL,
		completed_intervals INTEGER NOT NULL,
		failed_intervals    INTEGER NOT NULL,
		payload             JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS experiments_created_at_idx ON experiments (created_at DESC)`,
}

// PostgresResultStore implements ResultStore on PostgreSQL.
type PostgresResultStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

var _ domrepo.ResultStore = (*PostgresResultStore)(nil)

// NewPostgresResultStore wraps an open connection pool.
func NewPostgresResultStore(db *sqlx.DB, timeout time.Duration) *PostgresResultStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PostgresResultStore{db: db, timeout: timeout}
}

// InitSchema applies PostgresSchema (idempotent).
func (s *PostgresResultStore) InitSchema(ctx context.Context) error {
	for _, stmt := range PostgresSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres init schema: %w", err)
		}
	}
	return nil
}

// Save upserts r by id.
func (s *PostgresResultStore) Save(ctx context.Context, r *models.ExperimentResult) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("postgres save %s: encode: %w", r.ID, err)
	}
	sum := r.Summary()
	const q = `
		INSERT INTO experiments
		(id, market_slug, status, created_at, completed_at, total_intervals,
		 completed_intervals, failed_intervals, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			market_slug = EXCLUDED.market_slug,
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			total_intervals = EXCLUDED.total_intervals,
			completed_intervals = EXCLUDED.completed_intervals,
			failed_intervals = EXCLUDED.failed_intervals,
			payload = EXCLUDED.payload`
	if _, err := s.db.ExecContext(ctx, q,
		sum.ID, sum.MarketSlug, string(sum.Status), sum.CreatedAt, sum.CompletedAt,
		sum.TotalIntervals, sum.CompletedIntervals, sum.FailedIntervals, payload); err != nil {
		return fmt.Errorf("postgres save %s: %w", r.ID, err)
	}
	return nil
}

// Get loads the stored payload for id.
func (s *PostgresResultStore) Get(ctx context.Context, id string) (*models.ExperimentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var payload []byte
	err := s.db.QueryRowxContext(ctx, `SELECT payload FROM experiments WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("experiment %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get %s: %w", id, err)
	}
	var r models.ExperimentResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("postgres get %s: decode: %w", id, err)
	}
	return &r, nil
}

// List returns summaries newest first.
func (s *PostgresResultStore) List(ctx context.Context, limit int) ([]models.ExperimentSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var lim any
	if limit > 0 {
		lim = limit
	}
	var out []models.ExperimentSummary
	const q = `
		SELECT id, market_slug, status, created_at, completed_at, total_intervals,
		       completed_intervals, failed_intervals
		FROM experiments
		ORDER BY created_at DESC, id
		LIMIT $1`
	if err := s.db.SelectContext(ctx, &out, q, lim); err != nil {
		return nil, fmt.Errorf("postgres list: %w", err)
	}
	return out, nil
}

func (s *PostgresResultStore) Close() error { return s.db.Close() }
