package service

import (
	"context"
	"time"

	"Rewind/internal/domain/models"
)

// MarketService reads market metadata and point-in-time prices.
type MarketService interface {
	Metadata(ctx context.Context, slug string) (*models.MarketInfo, error)
	// StateAt returns the most recent state at or before at, never later.
	StateAt(ctx context.Context, tokenID string, at time.Time) (*models.MarketState, error)
}

// EvidenceSearch finds evidence published no later than upperBound.
type EvidenceSearch interface {
	Search(ctx context.Context, query string, upperBound time.Time, limit int) ([]models.Evidence, error)
}

// CompletionRequest is one model-inference call.
type CompletionRequest struct {
	Model       string
	System      string
	Prompt      string
	JSON        bool
	Temperature float64
}

// ModelInference completes prompts. No ordering guarantees between calls.
type ModelInference interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ExecutionOutput is what the sandbox reports for one program run.
type ExecutionOutput struct {
	Stdout   string
	ExitCode int
	Duration time.Duration
}

// SandboxExecutor runs generated code against a JSON-serializable input.
// A timeout is reported as models.ErrSandboxTimeout.
type SandboxExecutor interface {
	Execute(ctx context.Context, code string, input any) (*ExecutionOutput, error)
}
