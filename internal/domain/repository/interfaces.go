package repository

import (
	"context"

	"Rewind/internal/domain/models"
)

// ResultStore persists sealed experiment results.
type ResultStore interface {
	Save(ctx context.Context, r *models.ExperimentResult) error
	// Get returns models.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*models.ExperimentResult, error)
	// List returns summaries newest first; limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]models.ExperimentSummary, error)
	Close() error
}

// EventPublisher announces interval and experiment outcomes.
type EventPublisher interface {
	PublishInterval(ctx context.Context, experimentID string, r *models.IntervalResult) error
	PublishIntervalFailure(ctx context.Context, experimentID string, f *models.IntervalFailure) error
	PublishExperiment(ctx context.Context, s models.ExperimentSummary) error
	Close() error
}

type Metrics interface {
	RecordInterval(status string)
	RecordReplica(path, outcome string)
	RecordFallback(reason string)
	RecordExperiment(status string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
