package repository

import (
	"context"
	"time"

	"Rewind/internal/domain/models"
	domrepo "Rewind/internal/domain/repository"
)

// Event types carried in the envelope.
const (
	EventIntervalCompleted  = "interval.completed"
	EventIntervalFailed     = "interval.failed"
	EventExperimentFinished = "experiment.finished"
)

// Event is the envelope written to the events topic.
type Event struct {
	Type         string    `json:"type"`
	ExperimentID string    `json:"experiment_id"`
	OccurredAt   time.Time `json:"occurred_at"`
	Payload      any       `json:"payload"`
}

type producer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaEventPublisher emits experiment events keyed by experiment id, so
// one experiment's events stay ordered within a partition.
type KafkaEventPublisher struct {
	producer producer
	topic    string
	now      func() time.Time
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)

// NewKafkaEventPublisher accepts a *pkg/kafka.Producer.
func NewKafkaEventPublisher(p producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: p, topic: topic, now: time.Now}
}

func (p *KafkaEventPublisher) PublishInterval(ctx context.Context, experimentID string, r *models.IntervalResult) error {
	return p.publish(ctx, EventIntervalCompleted, experimentID, r)
}

func (p *KafkaEventPublisher) PublishIntervalFailure(ctx context.Context, experimentID string, f *models.IntervalFailure) error {
	return p.publish(ctx, EventIntervalFailed, experimentID, f)
}

func (p *KafkaEventPublisher) PublishExperiment(ctx context.Context, s models.ExperimentSummary) error {
	return p.publish(ctx, EventExperimentFinished, s.ID, s)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

func (p *KafkaEventPublisher) publish(ctx context.Context, typ, id string, payload any) error {
	return p.producer.Publish(ctx, p.topic, []byte(id), Event{
		Type:         typ,
		ExperimentID: id,
		OccurredAt:   p.now().UTC(),
		Payload:      payload,
	})
}

// NoopEventPublisher drops every event.
type NoopEventPublisher struct{}

var _ domrepo.EventPublisher = NoopEventPublisher{}

func (NoopEventPublisher) PublishInterval(context.Context, string, *models.IntervalResult) error {
	return nil
}

func (NoopEventPublisher) PublishIntervalFailure(context.Context, string, *models.IntervalFailure) error {
	return nil
}

func (NoopEventPublisher) PublishExperiment(context.Context, models.ExperimentSummary) error {
	return nil
}

func (NoopEventPublisher) Close() error { return nil }
