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
	applogger "Rewind/pkg/logger"
)

// ClickHouseSchema returns the statements creating the experiment tables in
// database. Experiments are versioned so a re-save replaces the row on merge.
func ClickHouseSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.experiments (
			id String,
			market_slug String,
			status LowCardinality(String),
			created_at DateTime64(3, 'UTC'),
			completed_at DateTime64(3, 'UTC'),
			total_intervals UInt32,
			completed_intervals UInt32,
			failed_intervals UInt32,
			payload String,
			version UInt64
		) ENGINE = ReplacingMergeTree(version) ORDER BY id`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.interval_decisions (
			experiment_id String,
			interval_index UInt32,
			ts DateTime64(3, 'UTC'),
			price Float64,
			estimated UInt8,
			decision LowCardinality(String),
			confidence Float64,
			yes_votes UInt32,
			no_votes UInt32,
			breaking_point UInt8,
			version UInt64
		) ENGINE = ReplacingMergeTree(version) ORDER BY (experiment_id, interval_index)`, database),
	}
}

// ClickHouseResultStore keeps results in ClickHouse. Interval aggregates are
// also written row-wise for analytical queries over many experiments.
type ClickHouseResultStore struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
	now      func() time.Time
}

var _ domrepo.ResultStore = (*ClickHouseResultStore)(nil)

func NewClickHouseResultStore(db *sql.DB, database string) *ClickHouseResultStore {
	return &ClickHouseResultStore{db: db, database: database, l: applogger.Nop(), now: time.Now}
}

// SetLogger injects a structured logger.
func (s *ClickHouseResultStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *ClickHouseResultStore) Save(ctx context.Context, r *models.ExperimentResult) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("clickhouse save %s: encode: %w", r.ID, err)
	}
	version := uint64(s.now().UnixNano())
	sum := r.Summary()

	q := fmt.Sprintf(`INSERT INTO %s.experiments
		(id, market_slug, status, created_at, completed_at, total_intervals, completed_intervals, failed_intervals, payload, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.database)
	if _, err := s.db.ExecContext(ctx, q,
		sum.ID, sum.MarketSlug, string(sum.Status), sum.CreatedAt, sum.CompletedAt,
		uint32(sum.TotalIntervals), uint32(sum.CompletedIntervals), uint32(sum.FailedIntervals),
		string(payload), version); err != nil {
		s.l.Error("clickhouse save experiment error", applogger.String("experiment_id", r.ID), applogger.Error(err))
		return fmt.Errorf("clickhouse save %s: %w", r.ID, err)
	}

	if len(r.Timeline) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clickhouse save %s intervals: %w", r.ID, err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s.interval_decisions
		(experiment_id, interval_index, ts, price, estimated, decision, confidence, yes_votes, no_votes, breaking_point, version)`, s.database))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clickhouse save %s intervals: %w", r.ID, err)
	}
	for _, iv := range r.Timeline {
		if _, err := stmt.ExecContext(ctx,
			r.ID, uint32(iv.Index), iv.Timestamp, iv.MarketState.Price, boolToUInt8(iv.MarketState.Estimated),
			string(iv.Aggregated.Decision), iv.Aggregated.Confidence,
			uint32(iv.Aggregated.YesVotes), uint32(iv.Aggregated.NoVotes), boolToUInt8(iv.BreakingPoint), version); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("clickhouse save %s interval %d: %w", r.ID, iv.Index, err)
		}
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clickhouse save %s intervals: commit: %w", r.ID, err)
	}
	return nil
}

func (s *ClickHouseResultStore) Get(ctx context.Context, id string) (*models.ExperimentResult, error) {
	q := fmt.Sprintf("SELECT payload FROM %s.experiments FINAL WHERE id = ? LIMIT 1", s.database)
	var payload string
	err := s.db.QueryRowContext(ctx, q, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("experiment %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("clickhouse get %s: %w", id, err)
	}
	var r models.ExperimentResult
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("clickhouse get %s: decode: %w", id, err)
	}
	return &r, nil
}

func (s *ClickHouseResultStore) List(ctx context.Context, limit int) ([]models.ExperimentSummary, error) {
	q := fmt.Sprintf(`SELECT id, market_slug, status, created_at, completed_at, total_intervals, completed_intervals, failed_intervals
		FROM %s.experiments FINAL
		ORDER BY created_at DESC, id`, s.database)
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("clickhouse list: %w", err)
	}
	defer rows.Close()

	out := make([]models.ExperimentSummary, 0, 64)
	for rows.Next() {
		var (
			sum                        models.ExperimentSummary
			status                     string
			total, completed, failures uint32
		)
		if err := rows.Scan(&sum.ID, &sum.MarketSlug, &status, &sum.CreatedAt, &sum.CompletedAt, &total, &completed, &failures); err != nil {
			return nil, fmt.Errorf("clickhouse list scan: %w", err)
		}
		sum.Status = models.ExperimentStatus(status)
		sum.TotalIntervals, sum.CompletedIntervals, sum.FailedIntervals = int(total), int(completed), int(failures)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse list rows: %w", err)
	}
	return out, nil
}

// Close is a no-op; the pool is owned by pkg/clickhouse.
func (s *ClickHouseResultStore) Close() error { return nil }

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
