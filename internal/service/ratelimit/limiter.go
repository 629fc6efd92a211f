package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Window is the rolling period for the per-minute cap.
const Window = 60 * time.Second

// Config bounds calls to one external service.
type Config struct {
	MaxConcurrent     int           `yaml:"max_concurrent" default:"1"`
	MinDelay          time.Duration `yaml:"min_delay"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// Release frees an acquired slot. Calling it more than once is a no-op.
type Release func()

// Limiter admits calls when a concurrency slot is free, the minimum delay
// since the previous call start has passed, and fewer than RequestsPerMinute
// calls started within the trailing Window.
type Limiter struct {
	name  string
	cfg   Config
	clock Clock
	sem   chan struct{}

	mu     sync.Mutex
	starts []time.Time // call starts inside the trailing window, oldest first
	pacer  *rate.Limiter

	onWait func(service string, d time.Duration)
}

// Option configures Limiter.
type Option func(*Limiter)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithWaitObserver reports the time each admitted caller spent waiting.
func WithWaitObserver(fn func(service string, d time.Duration)) Option {
	return func(l *Limiter) { l.onWait = fn }
}

// New creates a limiter for the named service.
func New(name string, cfg Config, opts ...Option) *Limiter {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	l := &Limiter{
		name:  name,
		cfg:   cfg,
		clock: RealClock(),
		sem:   make(chan struct{}, cfg.MaxConcurrent),
	}
	for _, opt := range opts {
		opt(l)
	}
	if cfg.MinDelay > 0 {
		l.pacer = rate.NewLimiter(rate.Every(cfg.MinDelay), 1)
	}
	return l
}

// Name returns the service name.
func (l *Limiter) Name() string { return l.name }

// Acquire blocks until the call may start. On error no slot is held.
func (l *Limiter) Acquire(ctx context.Context) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := l.clock.Now()
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := l.admit(ctx); err != nil {
		<-l.sem
		return nil, err
	}
	if l.onWait != nil {
		l.onWait(l.name, l.clock.Now().Sub(start))
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-l.sem })
	}, nil
}

// Do runs fn inside an acquired slot and always releases it.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// InFlight returns the number of held slots.
func (l *Limiter) InFlight() int { return len(l.sem) }

func (l *Limiter) admit(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.mu.Lock()
		wait := l.reserveLocked(l.clock.Now())
		l.mu.Unlock()
		if wait <= 0 {
			return nil
		}
		select {
		case <-l.clock.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reserveLocked records a call start at now and returns 0, or returns how
// long to wait before trying again.
func (l *Limiter) reserveLocked(now time.Time) time.Duration {
	cutoff := now.Add(-Window)
	drop := 0
	for drop < len(l.starts) && !l.starts[drop].After(cutoff) {
		drop++
	}
	l.starts = l.starts[drop:]

	var wait time.Duration
	if l.cfg.RequestsPerMinute > 0 && len(l.starts) >= l.cfg.RequestsPerMinute {
		wait = l.starts[0].Add(Window).Sub(now)
		if wait <= 0 {
			wait = time.Millisecond
		}
		return wait
	}

	if l.pacer != nil {
		r := l.pacer.ReserveN(now, 1)
		if d := r.DelayFrom(now); d > 0 {
			r.CancelAt(now)
			return d
		}
	}

	if l.cfg.RequestsPerMinute > 0 {
		l.starts = append(l.starts, now)
	}
	return 0
}
