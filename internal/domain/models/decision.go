package models

import "time"

// Decision is a replica or aggregated label.
type Decision string

const (
	DecisionYes Decision = "YES"
	DecisionNo  Decision = "NO"
)

// ExecutionPath records which procedure produced a replica decision.
type ExecutionPath string

const (
	PathAgentic ExecutionPath = "agentic"
	PathDirect  ExecutionPath = "direct"
)

// PriorDecision is the read-only view of an earlier interval's outcome.
type PriorDecision struct {
	Index      int         `json:"index"`
	Timestamp  time.Time   `json:"timestamp"`
	Decision   Decision    `json:"decision"`
	Confidence float64     `json:"confidence"`
	Market     MarketState `json:"market_state"`
}

// IntervalContext is everything a replica may see for one interval.
type IntervalContext struct {
	Interval          Interval        `json:"interval"`
	Time              time.Time       `json:"time"`
	Market            MarketInfo      `json:"market"`
	MarketState       MarketState     `json:"market_state"`
	Evidence          []Evidence      `json:"evidence"`
	PreviousDecisions []PriorDecision `json:"previous_decisions"`
	Queries           []string        `json:"queries,omitempty"`
}

// ExecutionTrace describes the sandbox run behind an agentic decision.
type ExecutionTrace struct {
	Code                 string  `json:"code"`
	RawOutput            string  `json:"raw_output"`
	ExitCode             int     `json:"exit_code"`
	ExecutedSuccessfully bool    `json:"executed_successfully"`
	DurationMs           float64 `json:"execution_time_ms"`
	ErrorMessage         string  `json:"error_message,omitempty"`
	AttemptNumber        int     `json:"attempt_number"`
	// Calls made to the model and sandbox for this attempt, retries included.
	GenerationCalls      int     `json:"generation_calls"`
	ExecutionCalls       int     `json:"execution_calls"`
}

// ReplicaDecision is produced once per (interval, model, replica).
type ReplicaDecision struct {
	Model               string          `json:"model"`
	Replica             int             `json:"replica"`
	Decision            Decision        `json:"decision"`
	Confidence          float64         `json:"confidence"`
	Rationale           string          `json:"rationale"`
	RelevantEvidenceIDs []string        `json:"relevant_evidence_ids"`
	Path                ExecutionPath   `json:"path"`
	ExecutionTrace      *ExecutionTrace `json:"execution_trace,omitempty"`
	FallbackReason      string          `json:"fallback_reason,omitempty"`
}

// ReplicaFailure records a replica that ended in the Failed state.
type ReplicaFailure struct {
	Model   string `json:"model"`
	Replica int    `json:"replica"`
	Error   string `json:"error"`
}

// AggregatedDecision is the per-interval outcome across replicas.
type AggregatedDecision struct {
	Decision   Decision `json:"decision"`
	Confidence float64  `json:"confidence"`
	YesVotes   int      `json:"yes_votes"`
	NoVotes    int      `json:"no_votes"`
}
