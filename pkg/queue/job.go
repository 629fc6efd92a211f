package queue

import (
	"context"
	"encoding/json"
)

// Job handles every message published under its Type.
type Job interface {
	Name() string
	Type() string

	// Handle runs one delivery. A returned error schedules a retry until
	// RetryLimit is spent, then the message moves to the dead-letter list.
	// A delivery interrupted by Stop is pushed back onto the queue.
	Handle(ctx context.Context, payload json.RawMessage) error
}
