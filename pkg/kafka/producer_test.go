package kafka

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	b, err := encode([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))

	b, err = encode(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(b))

	_, err = encode(make(chan int))
	assert.Error(t, err)
}

func TestParseCompressionDefaultsToGzip(t *testing.T) {
	assert.Equal(t, kafka.Zstd, parseCompression("zstd"))
	assert.Equal(t, kafka.Gzip, parseCompression("unknown"))
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
}

func TestProducerConfigValidate(t *testing.T) {
	cfg := DefaultProducerConfig()
	assert.Error(t, cfg.Validate())

	for _, opt := range []ProducerOption{
		WithBrokers([]string{"localhost:9092"}),
		WithBatchSize(0),
		WithMaxAttempts(0),
		WithCompression(""),
		WithTimeouts(0, 5*time.Second),
	} {
		opt(&cfg)
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, "gzip", cfg.Compression)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)

	WithRequiredAcks(2)(&cfg)
	assert.Error(t, cfg.Validate())
}

func TestNewProducerUsesHashBalancerForKeyedEvents(t *testing.T) {
	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithHashByKey(true))
	require.NoError(t, err)
	defer p.Close()
	_, ok := p.writer.Balancer.(*kafka.Hash)
	assert.True(t, ok)
}
