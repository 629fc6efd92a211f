package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type QueueService interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// QueueConfig contains the configuration for the queue
type QueueConfig struct {
	Workers    int           `yaml:"workers" default:"2"`       // number of workers
	RetryLimit int           `yaml:"retry_limit" default:"1"`   // number of maximum retries
	RetryDelay time.Duration `yaml:"retry_delay" default:"30s"` // delay before the first retry, grows linearly
}

// Message is the envelope stored in Redis. Payload stays encoded until the
// job that owns Type decodes it.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// ErrEmptyPayload is returned by Decode for a missing payload.
var ErrEmptyPayload = errors.New("queue: empty payload")

func newMessage(msgType string, payload interface{}) (Message, error) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		raw = b
	}
	return Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals a job payload into T.
func Decode[T any](payload json.RawMessage) (*T, error) {
	if len(payload) == 0 || string(payload) == "null" {
		return nil, ErrEmptyPayload
	}
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &v, nil
}

// retryDelay is the wait before attempt n+1.
func retryDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return base * time.Duration(attempts)
}
