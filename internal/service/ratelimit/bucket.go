package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Bucket is a non-blocking keyed token bucket used for request admission.
type Bucket struct {
	mu        sync.Mutex
	entries   map[string]*bucketEntry
	refill    rate.Limit
	burst     int
	clock     Clock
	idle      time.Duration // zero disables eviction
	lastSweep time.Time
}

type bucketEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewBucket creates a keyed bucket; every key starts full. A zero refill
// rate grants capacity tokens once per key. Keys idle long enough to have
// refilled completely are dropped, since a new bucket would be identical.
func NewBucket(capacity, refillPerSec float64, clock Clock) *Bucket {
	if clock == nil {
		clock = RealClock()
	}
	if capacity < 1 {
		capacity = 1
	}
	b := &Bucket{
		entries:   make(map[string]*bucketEntry),
		refill:    rate.Limit(refillPerSec),
		burst:     int(capacity),
		clock:     clock,
		lastSweep: clock.Now(),
	}
	if refillPerSec > 0 {
		b.idle = time.Duration(float64(b.burst) / refillPerSec * float64(time.Second))
		if b.idle < time.Second {
			b.idle = time.Second
		}
	}
	return b
}

// Allow returns true if one token can be consumed for key.
func (b *Bucket) Allow(key string) bool {
	now := b.clock.Now()
	return b.limiter(key, now).AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *Bucket) limiter(key string, now time.Time) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.idle > 0 && now.Sub(b.lastSweep) >= b.idle {
		b.sweepLocked(now)
	}
	e, ok := b.entries[key]
	if !ok {
		e = &bucketEntry{lim: rate.NewLimiter(b.refill, b.burst)}
		b.entries[key] = e
	}
	e.seen = now
	return e.lim
}

func (b *Bucket) sweepLocked(now time.Time) {
	for key, e := range b.entries {
		if now.Sub(e.seen) >= b.idle {
			delete(b.entries, key)
		}
	}
	b.lastSweep = now
}
