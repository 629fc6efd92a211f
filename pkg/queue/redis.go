package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"Rewind/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// QueueMode defines the operation mode of the queue.
type QueueMode int

const (
	ModeProducerConsumer QueueMode = iota
	ModeProducerOnly
	ModeConsumerOnly
)

func (m QueueMode) String() string {
	switch m {
	case ModeProducerOnly:
		return "producer-only"
	case ModeConsumerOnly:
		return "consumer-only"
	default:
		return "producer-consumer"
	}
}

const (
	popTimeout    = time.Second
	retryInterval = 5 * time.Second
	requeueWait   = 3 * time.Second
)

// RedisQueue is a list-backed work queue with a sorted-set retry schedule
// and a dead-letter list.
type RedisQueue struct {
	logger *logger.Logger
	config *QueueConfig
	client *redis.Client
	mode   QueueMode
	prefix string

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		r.prefix = prefix
	}
}

// NewRedisQueue creates a new Redis queue.
func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, mode QueueMode, opts ...RedisQueueOption) *RedisQueue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if config == nil {
		config = &QueueConfig{}
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	rq := &RedisQueue{
		logger: lgr,
		config: config,
		client: client,
		mode:   mode,
		prefix: "rewind:queue",
		jobs:   make(map[string]Job),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

// RegisterJob binds job to its message type. Producer-only queues ignore it.
func (r *RedisQueue) RegisterJob(job Job) {
	if r.mode == ModeProducerOnly {
		r.logger.Warn("job registration ignored in producer-only mode", logger.String("job", job.Name()))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Info("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

// Start pings Redis and launches the workers and the retry mover.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("queue already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	r.running = true

	if r.mode == ModeProducerOnly {
		r.logger.Info("redis publisher started", logger.String("addr", r.client.Options().Addr))
		return nil
	}
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.retryLoop()
	r.logger.Info("redis queue started",
		logger.Int("workers", r.config.Workers),
		logger.String("addr", r.client.Options().Addr),
		logger.String("mode", r.mode.String()))
	return nil
}

// Stop cancels in-flight deliveries and waits for the workers to exit.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()
	r.logger.Info("stopping redis queue")

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		r.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-done:
		r.logger.Info("redis queue stopped")
		return nil
	}
}

// Enqueue encodes payload and pushes it for the job registered under msgType.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()
	if !running {
		return fmt.Errorf("queue not running")
	}
	if r.mode != ModeProducerOnly && !known {
		return fmt.Errorf("no job registered for type: %s", msgType)
	}

	msg, err := newMessage(msgType, payload)
	if err != nil {
		return err
	}
	return r.push(ctx, r.messagesKey(), msg)
}

// PublishMessage publishes a message (implements QueueService).
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	return r.Enqueue(ctx, msgType, payload)
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	r.logger.Debug("queue worker started", logger.Int("worker_id", id))
	for r.ctx.Err() == nil {
		msg, ok := r.pop()
		if ok {
			r.deliver(msg)
		}
	}
	r.logger.Debug("queue worker stopped", logger.Int("worker_id", id))
}

// pop blocks for up to popTimeout waiting for the next message.
func (r *RedisQueue) pop() (Message, bool) {
	res, err := r.client.BRPop(r.ctx, popTimeout, r.messagesKey()).Result()
	switch {
	case err == nil:
	case errors.Is(err, redis.Nil), errors.Is(err, context.Canceled):
		return Message{}, false
	default:
		r.logger.Error("brpop", logger.Error(err))
		select {
		case <-time.After(popTimeout):
		case <-r.ctx.Done():
		}
		return Message{}, false
	}
	if len(res) < 2 {
		return Message{}, false
	}
	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		r.logger.Error("undecodable message dropped", logger.Error(err))
		return Message{}, false
	}
	return msg, true
}

func (r *RedisQueue) deliver(msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("no job for message type, dead-lettering",
			logger.String("type", msg.Type),
			logger.String("id", msg.ID))
		r.deadLetter(msg)
		return
	}

	start := time.Now()
	err := job.Handle(r.ctx, msg.Payload)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) && r.ctx.Err() != nil:
		r.logger.Warn("delivery interrupted by shutdown, requeueing",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		r.requeue(msg)
	default:
		r.fail(msg, job, err)
	}
}

func (r *RedisQueue) fail(msg Message, job Job, err error) {
	r.logger.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))

	if msg.Attempts >= r.config.RetryLimit {
		r.logger.Error("max retries reached", logger.String("id", msg.ID), logger.String("job", job.Name()))
		r.deadLetter(msg)
		return
	}
	msg.Attempts++
	at := time.Now().Add(retryDelay(r.config.RetryDelay, msg.Attempts))
	if err := r.scheduleRetry(msg, at); err != nil {
		r.logger.Error("schedule retry", logger.String("id", msg.ID), logger.Error(err))
		return
	}
	r.logger.Info("scheduled retry",
		logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts),
		logger.String("retry_at", at.Format(time.RFC3339)))
}

func (r *RedisQueue) scheduleRetry(msg Message, at time.Time) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal retry: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), requeueWait)
	defer cancel()
	return r.client.ZAdd(ctx, r.retryKey(), redis.Z{Score: float64(at.Unix()), Member: data}).Err()
}

// requeue puts an interrupted delivery back at the consuming end of the list.
func (r *RedisQueue) requeue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal requeue", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requeueWait)
	defer cancel()
	if err := r.client.RPush(ctx, r.messagesKey(), data).Err(); err != nil {
		r.logger.Error("rpush requeue", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) deadLetter(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), requeueWait)
	defer cancel()
	if err := r.push(ctx, r.deadLetterKey(), msg); err != nil {
		r.logger.Error("dead-letter", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) push(ctx context.Context, key string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

// retryLoop moves due retries back onto the main list.
func (r *RedisQueue) retryLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.moveDueRetries(time.Now())
		}
	}
}

func (r *RedisQueue) moveDueRetries(now time.Time) {
	due, err := r.client.ZRangeByScore(r.ctx, r.retryKey(), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Error("fetch retry messages", logger.Error(err))
		}
		return
	}
	for _, member := range due {
		if r.ctx.Err() != nil {
			return
		}
		pipe := r.client.TxPipeline()
		pipe.ZRem(r.ctx, r.retryKey(), member)
		pipe.LPush(r.ctx, r.messagesKey(), member)
		if _, err := pipe.Exec(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("move retry to queue", logger.Error(err))
		}
	}
}

func (r *RedisQueue) messagesKey() string   { return r.prefix + ":messages" }
func (r *RedisQueue) retryKey() string      { return r.prefix + ":retry" }
func (r *RedisQueue) deadLetterKey() string { return r.prefix + ":dlq" }
