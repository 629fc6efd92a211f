package progress

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"Rewind/internal/domain/models"
)

type entry struct {
	total     int64
	settled   atomic.Int64 // completed+failed reservations, never above total
	completed atomic.Int64
	failed    atomic.Int64
	start     time.Time

	mu       sync.RWMutex
	status   models.ExperimentStatus
	lastErr  string
	finished time.Time
}

// Tracker is a keyed registry of live experiment counters.
type Tracker struct {
	mu  sync.RWMutex
	m   map[string]*entry
	now func() time.Time
}

// Option configures Tracker.
type Option func(*Tracker)

// WithNow overrides the time source used for start and elapsed.
func WithNow(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{m: make(map[string]*entry), now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start registers id as running with zero counters, replacing any previous entry.
func (t *Tracker) Start(id string, total int) error {
	if total < 0 {
		return fmt.Errorf("progress: negative total %d", total)
	}
	e := &entry{total: int64(total), start: t.now(), status: models.StatusRunning}
	t.mu.Lock()
	t.m[id] = e
	t.mu.Unlock()
	return nil
}

// Ensure starts id unless it is already tracked.
func (t *Tracker) Ensure(id string, total int) error {
	t.mu.RLock()
	_, ok := t.m[id]
	t.mu.RUnlock()
	if ok {
		return nil
	}
	return t.Start(id, total)
}

// MarkCompleted counts one completed interval.
func (t *Tracker) MarkCompleted(id string) error {
	e, err := t.get(id)
	if err != nil {
		return err
	}
	e.settle(&e.completed)
	return nil
}

// MarkFailed counts one failed interval.
func (t *Tracker) MarkFailed(id string) error {
	e, err := t.get(id)
	if err != nil {
		return err
	}
	e.settle(&e.failed)
	return nil
}

// Finish moves id to a terminal status. The first terminal status wins.
func (t *Tracker) Finish(id string, status models.ExperimentStatus, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("progress: %q is not a terminal status", status)
	}
	e, err := t.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.IsTerminal() {
		return nil
	}
	e.status = status
	e.lastErr = errMsg
	e.finished = t.now()
	return nil
}

// Snapshot returns an immutable view of id.
func (t *Tracker) Snapshot(id string) (models.ExperimentProgress, error) {
	e, err := t.get(id)
	if err != nil {
		return models.ExperimentProgress{}, err
	}
	e.mu.RLock()
	status, lastErr, finished := e.status, e.lastErr, e.finished
	e.mu.RUnlock()

	completed := e.completed.Load()
	failed := e.failed.Load()
	var pct float64
	if e.total > 0 {
		pct = 100 * float64(completed+failed) / float64(e.total)
	}
	end := t.now()
	if !finished.IsZero() {
		end = finished
	}
	return models.ExperimentProgress{
		ExperimentID:       id,
		TotalIntervals:     int(e.total),
		CompletedIntervals: int(completed),
		FailedIntervals:    int(failed),
		ProgressPercent:    pct,
		Status:             status,
		StartTime:          e.start,
		ElapsedSeconds:     end.Sub(e.start).Seconds(),
		Error:              lastErr,
	}, nil
}

// Running reports whether id is tracked and not yet terminal.
func (t *Tracker) Running(id string) bool {
	e, err := t.get(id)
	if err != nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status == models.StatusRunning
}

// Evict forgets id.
func (t *Tracker) Evict(id string) {
	t.mu.Lock()
	delete(t.m, id)
	t.mu.Unlock()
}

// EvictAfter forgets id once d has passed, unless it was restarted meanwhile.
func (t *Tracker) EvictAfter(id string, d time.Duration) {
	t.mu.RLock()
	e := t.m[id]
	t.mu.RUnlock()
	if e == nil {
		return
	}
	if d <= 0 {
		t.evictIfSame(id, e)
		return
	}
	time.AfterFunc(d, func() { t.evictIfSame(id, e) })
}

func (t *Tracker) evictIfSame(id string, e *entry) {
	t.mu.Lock()
	if t.m[id] == e {
		delete(t.m, id)
	}
	t.mu.Unlock()
}

func (t *Tracker) get(id string) (*entry, error) {
	t.mu.RLock()
	e, ok := t.m[id]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("progress %s: %w", id, models.ErrNotFound)
	}
	return e, nil
}

// settle reserves one unit of total before bumping counter, so
// completed+failed never exceeds total. Counts after a terminal status are dropped.
func (e *entry) settle(counter *atomic.Int64) {
	e.mu.RLock()
	terminal := e.status.IsTerminal()
	e.mu.RUnlock()
	if terminal {
		return
	}
	for {
		s := e.settled.Load()
		if s >= e.total {
			return
		}
		if e.settled.CompareAndSwap(s, s+1) {
			counter.Add(1)
			return
		}
	}
}
