package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Rewind/internal/domain/models"
	domrepo "Rewind/internal/domain/repository"
	"Rewind/internal/service/progress"
	"Rewind/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// OrchestratorConfig bounds fan-out independently of per-service limiters.
type OrchestratorConfig struct {
	MaxConcurrentIntervals int
	ReplicaConcurrency     int
	// StrictPreviousDecisions makes interval i wait for interval i-1 to settle
	// so its context sees every earlier aggregated decision.
	StrictPreviousDecisions bool
	ProgressRetention       time.Duration
	PersistTimeout          time.Duration
}

func (c *OrchestratorConfig) normalize() {
	if c.MaxConcurrentIntervals <= 0 {
		c.MaxConcurrentIntervals = 4
	}
	if c.ReplicaConcurrency <= 0 {
		c.ReplicaConcurrency = 4
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 30 * time.Second
	}
}

// Orchestrator plans experiments, fans intervals out under a global cap,
// runs replicas, aggregates and seals the result.
type Orchestrator struct {
	cfg        OrchestratorConfig
	builder    *ContextBuilder
	engine     *DecisionEngine
	tracker    *progress.Tracker
	store      domrepo.ResultStore
	events     domrepo.EventPublisher
	metrics    domrepo.Metrics
	log        *logger.Logger
	dispatcher Dispatcher
	now        func() time.Time
	newID      func() string

	mu        sync.Mutex
	cancels   map[string]context.CancelFunc
	cancelled map[string]struct{}
	closed    bool
	wg        sync.WaitGroup
}

type OrchestratorOption func(*Orchestrator)

func WithOrchestratorLogger(l *logger.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = l }
}

func WithOrchestratorMetrics(m domrepo.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithEventPublisher(p domrepo.EventPublisher) OrchestratorOption {
	return func(o *Orchestrator) { o.events = p }
}

// WithDispatcher hands accepted runs to d instead of a local goroutine.
func WithDispatcher(d Dispatcher) OrchestratorOption {
	return func(o *Orchestrator) { o.dispatcher = d }
}

func WithIDGenerator(fn func() string) OrchestratorOption {
	return func(o *Orchestrator) { o.newID = fn }
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(cfg OrchestratorConfig, builder *ContextBuilder, engine *DecisionEngine, tracker *progress.Tracker, store domrepo.ResultStore, opts ...OrchestratorOption) *Orchestrator {
	cfg.normalize()
	o := &Orchestrator{
		cfg:       cfg,
		builder:   builder,
		engine:    engine,
		tracker:   tracker,
		store:     store,
		events:    nopEvents{},
		metrics:   nopMetrics{},
		log:       logger.Nop(),
		now:       time.Now,
		newID:     uuid.NewString,
		cancels:   make(map[string]context.CancelFunc),
		cancelled: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run validates and plans cfg, registers progress and returns immediately.
// The experiment proceeds asynchronously.
func (o *Orchestrator) Run(ctx context.Context, cfg models.ExperimentConfig) (*models.RunExperimentResponse, error) {
	local := o.dispatcher == nil
	job, total, err := o.accept(cfg, local)
	if err != nil {
		return nil, err
	}
	if local {
		go func() {
			defer o.wg.Done()
			_, _ = o.Execute(context.Background(), job)
		}()
	} else if err := o.dispatcher.Dispatch(ctx, job); err != nil {
		_ = o.tracker.Finish(job.ID, models.StatusFailed, err.Error())
		return nil, fmt.Errorf("dispatch experiment %s: %w", job.ID, err)
	}
	return &models.RunExperimentResponse{ExperimentID: job.ID, Status: models.StatusRunning, TotalIntervals: total}, nil
}

// RunSync runs an experiment to completion on the caller's goroutine.
func (o *Orchestrator) RunSync(ctx context.Context, cfg models.ExperimentConfig) (*models.ExperimentResult, error) {
	job, _, err := o.accept(cfg, true)
	if err != nil {
		return nil, err
	}
	defer o.wg.Done()
	return o.Execute(ctx, job)
}

// accept plans cfg and starts its progress. When local is set the run is
// counted in the shutdown drain and the caller must call o.wg.Done.
func (o *Orchestrator) accept(cfg models.ExperimentConfig, local bool) (_ ExperimentJob, _ int, err error) {
	if local {
		if !o.track() {
			return ExperimentJob{}, 0, errShuttingDown
		}
		defer func() {
			if err != nil {
				o.wg.Done()
			}
		}()
	} else if o.isClosed() {
		return ExperimentJob{}, 0, errShuttingDown
	}

	intervals, err := PlanExperiment(cfg)
	if err != nil {
		return ExperimentJob{}, 0, err
	}
	job := ExperimentJob{ID: o.newID(), Config: cfg, CreatedAt: o.now().UTC()}
	if err := o.tracker.Start(job.ID, len(intervals)); err != nil {
		return ExperimentJob{}, 0, err
	}
	o.log.Info("experiment accepted",
		logger.String("experiment_id", job.ID),
		logger.String("market", cfg.MarketSlug),
		logger.Int("intervals", len(intervals)),
		logger.Int("replicas", cfg.NumSimulations),
		logger.Strings("models", cfg.Models),
		logger.String("mode", string(cfg.Mode)))
	return job, len(intervals), nil
}

// Execute runs a previously accepted job and seals its result. It is the
// entry point for queue workers as well as local runs.
func (o *Orchestrator) Execute(ctx context.Context, job ExperimentJob) (*models.ExperimentResult, error) {
	intervals, err := PlanExperiment(job.Config)
	if err != nil {
		return nil, err
	}
	if err := o.tracker.Ensure(job.ID, len(intervals)); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !o.register(job.ID, cancel) {
		cancel()
	}
	defer o.unregister(job.ID)

	log := o.log.With(logger.String("experiment_id", job.ID))
	start := o.now()
	run := newRunState(len(intervals))

	info, err := o.builder.Metadata(ctx, job.Config.MarketSlug)
	if err != nil {
		log.Error("market metadata unavailable, failing every interval", logger.Error(err))
		for _, iv := range intervals {
			o.settle(ctx, job.ID, run, iv, nil, err)
		}
	} else {
		o.schedule(ctx, job, *info, intervals, run)
	}

	result := o.seal(ctx, job, run, intervals)
	log.Info("experiment finished",
		logger.String("status", string(result.Status)),
		logger.Int("completed", len(result.Timeline)),
		logger.Int("failed", len(result.FailedIntervals)),
		logger.Duration("elapsed", o.now().Sub(start)))
	if result.Status == models.StatusFailed {
		return result, fmt.Errorf("%w: %s", models.ErrExperimentFailed, result.Error)
	}
	return result, nil
}

func (o *Orchestrator) schedule(ctx context.Context, job ExperimentJob, info models.MarketInfo, intervals []models.Interval, run *runState) {
	var g errgroup.Group
	g.SetLimit(o.cfg.MaxConcurrentIntervals)

	done := make([]chan struct{}, len(intervals))
	for i := range done {
		done[i] = make(chan struct{})
	}
	// Launch in index order so a strict interval only ever waits on one
	// that already holds, or has released, a scheduler slot.
	for i, iv := range intervals {
		i, iv := i, iv
		g.Go(func() error {
			defer close(done[i])
			if o.cfg.StrictPreviousDecisions && i > 0 {
				select {
				case <-done[i-1]:
				case <-ctx.Done():
				}
			}
			res, err := o.runInterval(ctx, job, info, iv, run)
			o.settle(ctx, job.ID, run, iv, res, err)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) runInterval(ctx context.Context, job ExperimentJob, info models.MarketInfo, iv models.Interval, run *runState) (*models.IntervalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrCancelled, err)
	}
	started := o.now()
	ic, err := o.builder.Build(ctx, BuildInput{
		Market:   info,
		Interval: iv,
		Model:    job.Config.Models[0],
		Prior:    run.prior(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: build context: %w", models.ErrIntervalFailed, err)
	}

	decisions, failures := o.runReplicas(ctx, job.Config, ic)
	o.metrics.RecordLatency("interval", o.now().Sub(started).Seconds())
	if len(decisions) == 0 {
		first := "no replicas ran"
		if len(failures) > 0 {
			first = failures[0].Error
		}
		return nil, fmt.Errorf("%w: all %d replicas failed, first error: %s", models.ErrIntervalFailed, len(failures), first)
	}

	agg := Aggregate(decisions)
	return &models.IntervalResult{
		Index:           iv.Index,
		Start:           iv.Start,
		End:             iv.End,
		Timestamp:       ic.Time,
		MarketState:     ic.MarketState,
		Aggregated:      agg,
		Decisions:       decisions,
		ReplicaFailures: failures,
		EvidenceCount:   len(ic.Evidence),
	}, nil
}

// runReplicas fans out every (model, replica) pair. Results keep the
// model-major order of the config regardless of completion order.
func (o *Orchestrator) runReplicas(ctx context.Context, cfg models.ExperimentConfig, ic *models.IntervalContext) ([]models.ReplicaDecision, []models.ReplicaFailure) {
	type slot struct {
		decision *models.ReplicaDecision
		failure  *models.ReplicaFailure
	}
	slots := make([]slot, len(cfg.Models)*cfg.NumSimulations)

	var g errgroup.Group
	g.SetLimit(o.cfg.ReplicaConcurrency)
	for m, model := range cfg.Models {
		for r := 0; r < cfg.NumSimulations; r++ {
			idx, model, r := m*cfg.NumSimulations+r, model, r
			g.Go(func() error {
				d, err := o.engine.Decide(ctx, DecisionInput{Context: ic, Model: model, Replica: r, Mode: cfg.Mode})
				if err != nil {
					slots[idx].failure = &models.ReplicaFailure{Model: model, Replica: r, Error: err.Error()}
					return nil
				}
				slots[idx].decision = d
				return nil
			})
		}
	}
	_ = g.Wait()

	var (
		decisions []models.ReplicaDecision
		failures  []models.ReplicaFailure
	)
	for _, s := range slots {
		switch {
		case s.decision != nil:
			decisions = append(decisions, *s.decision)
		case s.failure != nil:
			failures = append(failures, *s.failure)
		}
	}
	return decisions, failures
}

// settle records one interval outcome in its slot, progress, events and metrics.
func (o *Orchestrator) settle(ctx context.Context, id string, run *runState, iv models.Interval, res *models.IntervalResult, err error) {
	pubCtx := context.WithoutCancel(ctx)
	if res == nil && ctx.Err() != nil {
		run.markCancelled()
	}
	if res != nil {
		run.complete(iv.Index, res)
		_ = o.tracker.MarkCompleted(id)
		o.metrics.RecordInterval("completed")
		if perr := o.events.PublishInterval(pubCtx, id, res); perr != nil {
			o.log.Warn("publish interval failed", logger.String("experiment_id", id), logger.Int("interval", iv.Index), logger.Error(perr))
		}
		return
	}
	if err == nil {
		err = models.ErrIntervalFailed
	}
	f := &models.IntervalFailure{Index: iv.Index, Start: iv.Start, End: iv.End, Error: err.Error()}
	run.fail(iv.Index, f)
	_ = o.tracker.MarkFailed(id)
	o.metrics.RecordInterval("failed")
	o.log.Warn("interval failed",
		logger.String("experiment_id", id),
		logger.Int("interval", iv.Index),
		logger.Error(err))
	if perr := o.events.PublishIntervalFailure(pubCtx, id, f); perr != nil {
		o.log.Warn("publish interval failure failed", logger.String("experiment_id", id), logger.Error(perr))
	}
}

// seal builds the terminal result, persists it, then finishes progress.
func (o *Orchestrator) seal(ctx context.Context, job ExperimentJob, run *runState, intervals []models.Interval) *models.ExperimentResult {
	timeline, failed, cancelled := run.collect()
	breaking := MarkBreakingPoints(timeline)

	result := &models.ExperimentResult{
		ID:              job.ID,
		Config:          job.Config,
		Status:          models.StatusCompleted,
		CreatedAt:       job.CreatedAt,
		CompletedAt:     o.now().UTC(),
		TotalIntervals:  len(intervals),
		Timeline:        timeline,
		FailedIntervals: failed,
		BreakingPoints:  breaking,
	}
	switch {
	case cancelled:
		result.Status = models.StatusFailed
		result.Error = models.ErrCancelled.Error()
	case len(timeline) == 0:
		result.Status = models.StatusFailed
		result.Error = fmt.Sprintf("all %d intervals failed", len(intervals))
		if len(failed) > 0 {
			result.Error += ": " + failed[0].Error
		}
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PersistTimeout)
	defer cancel()
	persisted := true
	if err := o.store.Save(persistCtx, result); err != nil {
		persisted = false
		o.metrics.RecordError("persist")
		o.log.Error("persist experiment result failed", logger.String("experiment_id", job.ID), logger.Error(err))
	}

	msg := result.Error
	if !persisted {
		msg = "result could not be persisted"
	}
	_ = o.tracker.Finish(job.ID, result.Status, msg)
	if persisted {
		o.tracker.EvictAfter(job.ID, o.cfg.ProgressRetention)
	}
	o.metrics.RecordExperiment(string(result.Status))
	if err := o.events.PublishExperiment(persistCtx, result.Summary()); err != nil {
		o.log.Warn("publish experiment failed", logger.String("experiment_id", job.ID), logger.Error(err))
	}
	return result
}

// Progress returns the live snapshot for id.
func (o *Orchestrator) Progress(id string) (models.ExperimentProgress, error) {
	return o.tracker.Snapshot(id)
}

// Result returns the sealed result, or ErrNotReady while the run is live.
func (o *Orchestrator) Result(ctx context.Context, id string) (*models.ExperimentResult, error) {
	if o.tracker.Running(id) {
		return nil, fmt.Errorf("experiment %s: %w", id, models.ErrNotReady)
	}
	res, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("experiment %s: %w", id, err)
	}
	return res, nil
}

// List returns stored experiment summaries, newest first.
func (o *Orchestrator) List(ctx context.Context, limit int) ([]models.ExperimentSummary, error) {
	return o.store.List(ctx, limit)
}

// Cancel stops a running experiment. Already aggregated intervals are kept
// and sealed into a failed-status result.
func (o *Orchestrator) Cancel(id string) error {
	if !o.tracker.Running(id) {
		if _, err := o.tracker.Snapshot(id); err == nil {
			return fmt.Errorf("experiment %s: %w", id, models.ErrFinished)
		}
		return fmt.Errorf("experiment %s: %w", id, models.ErrNotFound)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, ok := o.cancels[id]; ok {
		cancel()
		return nil
	}
	// accepted but not picked up by a worker yet
	o.cancelled[id] = struct{}{}
	return nil
}

// Shutdown cancels every live run and waits for them to seal.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for _, cancel := range o.cancels {
		cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
	}
}

var errShuttingDown = fmt.Errorf("%w: orchestrator is shutting down", models.ErrServiceUnavailable)

// track counts a run in the shutdown drain. It returns false once Shutdown
// has begun; on true the caller must call o.wg.Done.
func (o *Orchestrator) track() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.wg.Add(1)
	return true
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// register returns false if id was cancelled before it started.
func (o *Orchestrator) register(id string, cancel context.CancelFunc) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancels[id] = cancel
	if _, ok := o.cancelled[id]; ok {
		delete(o.cancelled, id)
		return false
	}
	return !o.closed
}

func (o *Orchestrator) unregister(id string) {
	o.mu.Lock()
	delete(o.cancels, id)
	o.mu.Unlock()
}

// runState holds one experiment's per-index result slots.
type runState struct {
	mu        sync.RWMutex
	results   []*models.IntervalResult
	failures  []*models.IntervalFailure
	cancelled bool // some interval settled as failed after cancellation
}

func newRunState(n int) *runState {
	return &runState{results: make([]*models.IntervalResult, n), failures: make([]*models.IntervalFailure, n)}
}

func (s *runState) complete(i int, r *models.IntervalResult) {
	s.mu.Lock()
	s.results[i] = r
	s.mu.Unlock()
}

func (s *runState) fail(i int, f *models.IntervalFailure) {
	s.mu.Lock()
	s.failures[i] = f
	s.mu.Unlock()
}

func (s *runState) markCancelled() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

// prior is the best-effort view of intervals aggregated so far.
func (s *runState) prior() []models.PriorDecision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PriorDecision
	for _, r := range s.results {
		if r == nil {
			continue
		}
		out = append(out, models.PriorDecision{
			Index:      r.Index,
			Timestamp:  r.Timestamp,
			Decision:   r.Aggregated.Decision,
			Confidence: r.Aggregated.Confidence,
			Market:     r.MarketState,
		})
	}
	return out
}

// collect returns successful intervals and failures, both in index order,
// and whether cancellation cut the run short.
func (s *runState) collect() ([]models.IntervalResult, []models.IntervalFailure, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	timeline := make([]models.IntervalResult, 0, len(s.results))
	var failed []models.IntervalFailure
	for i := range s.results {
		switch {
		case s.results[i] != nil:
			timeline = append(timeline, *s.results[i])
		case s.failures[i] != nil:
			failed = append(failed, *s.failures[i])
		}
	}
	return timeline, failed, s.cancelled
}
