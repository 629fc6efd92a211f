package models

import "time"

// IntervalResult is one sealed entry of the timeline.
type IntervalResult struct {
	Index           int                `json:"index"`
	Start           time.Time          `json:"start"`
	End             time.Time          `json:"end"`
	Timestamp       time.Time          `json:"timestamp"`
	MarketState     MarketState        `json:"market_state"`
	Aggregated      AggregatedDecision `json:"aggregated"`
	Decisions       []ReplicaDecision  `json:"decisions"`
	ReplicaFailures []ReplicaFailure   `json:"replica_failures,omitempty"`
	EvidenceCount   int                `json:"evidence_count"`
	BreakingPoint   bool               `json:"breaking_point"`
}

// IntervalFailure records an interval where no replica succeeded.
type IntervalFailure struct {
	Index int       `json:"index"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Error string    `json:"error"`
}

// ExperimentResult is the terminal artifact of a run.
type ExperimentResult struct {
	ID              string            `json:"id"`
	Config          ExperimentConfig  `json:"config"`
	Status          ExperimentStatus  `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	CompletedAt     time.Time         `json:"completed_at"`
	TotalIntervals  int               `json:"total_intervals"`
	Timeline        []IntervalResult  `json:"timeline"`
	FailedIntervals []IntervalFailure `json:"failed_intervals,omitempty"`
	BreakingPoints  []int             `json:"breaking_points,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// Summary returns the listing view of the result.
func (r *ExperimentResult) Summary() ExperimentSummary {
	return ExperimentSummary{
		ID:                 r.ID,
		MarketSlug:         r.Config.MarketSlug,
		Status:             r.Status,
		CreatedAt:          r.CreatedAt,
		CompletedAt:        r.CompletedAt,
		TotalIntervals:     r.TotalIntervals,
		CompletedIntervals: len(r.Timeline),
		FailedIntervals:    len(r.FailedIntervals),
	}
}

// ExperimentSummary is the listing view of a stored experiment.
type ExperimentSummary struct {
	ID                 string           `json:"id" db:"id"`
	MarketSlug         string           `json:"market_slug" db:"market_slug"`
	Status             ExperimentStatus `json:"status" db:"status"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	CompletedAt        time.Time        `json:"completed_at" db:"completed_at"`
	TotalIntervals     int              `json:"total_intervals" db:"total_intervals"`
	CompletedIntervals int              `json:"completed_intervals" db:"completed_intervals"`
	FailedIntervals    int              `json:"failed_intervals" db:"failed_intervals"`
}

// ExperimentProgress is an immutable snapshot of live counters.
type ExperimentProgress struct {
	ExperimentID       string           `json:"experiment_id"`
	TotalIntervals     int              `json:"total_intervals"`
	CompletedIntervals int              `json:"completed_intervals"`
	FailedIntervals    int              `json:"failed_intervals"`
	ProgressPercent    float64          `json:"progress_percent"`
	Status             ExperimentStatus `json:"status"`
	StartTime          time.Time        `json:"start_time"`
	ElapsedSeconds     float64          `json:"elapsed_seconds"`
	Error              string           `json:"error,omitempty"`
}
