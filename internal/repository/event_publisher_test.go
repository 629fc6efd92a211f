package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"Rewind/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	topic string
	key   string
	value Event
}

type fakeProducer struct {
	msgs   []sent
	err    error
	closed bool
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, sent{topic: topic, key: string(key), value: value.(Event)})
	return nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func TestKafkaEventPublisherEnvelopes(t *testing.T) {
	prod := &fakeProducer{}
	p := NewKafkaEventPublisher(prod, "rewind.events")
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }
	ctx := context.Background()

	require.NoError(t, p.PublishInterval(ctx, "exp-1", &models.IntervalResult{Index: 2}))
	require.NoError(t, p.PublishIntervalFailure(ctx, "exp-1", &models.IntervalFailure{Index: 3, Error: "boom"}))
	require.NoError(t, p.PublishExperiment(ctx, models.ExperimentSummary{ID: "exp-1", Status: models.StatusCompleted}))
	require.NoError(t, p.Close())

	require.Len(t, prod.msgs, 3)
	types := []string{EventIntervalCompleted, EventIntervalFailed, EventExperimentFinished}
	for i, m := range prod.msgs {
		assert.Equal(t, "rewind.events", m.topic)
		assert.Equal(t, "exp-1", m.key)
		assert.Equal(t, types[i], m.value.Type)
		assert.Equal(t, at, m.value.OccurredAt)
	}
	assert.True(t, prod.closed)
}

func TestKafkaEventPublisherPropagatesErrors(t *testing.T) {
	boom := errors.New("broker down")
	p := NewKafkaEventPublisher(&fakeProducer{err: boom}, "t")
	assert.ErrorIs(t, p.PublishInterval(context.Background(), "x", &models.IntervalResult{}), boom)
}
