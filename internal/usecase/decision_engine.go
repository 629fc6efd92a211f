package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"Rewind/internal/domain/models"
	domrepo "Rewind/internal/domain/repository"
	domsvc "Rewind/internal/domain/service"
	"Rewind/internal/service/ratelimit"
	"Rewind/pkg/logger"
	"Rewind/pkg/util"
)

// ReplicaState is one state of the per-replica decision machine.
type ReplicaState int

const (
	StatePending ReplicaState = iota
	StateAgenticAttempt
	StateFallbackAttempt
	StateDirectAttempt
	StateSuccess
	StateFailed
)

func (s ReplicaState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAgenticAttempt:
		return "agentic_attempt"
	case StateFallbackAttempt:
		return "fallback_attempt"
	case StateDirectAttempt:
		return "direct_attempt"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DecisionInput identifies one (interval, model, replica) run.
type DecisionInput struct {
	Context *models.IntervalContext
	Model   string
	Replica int
	Mode    models.Mode
}

type attemptRecord struct {
	attempt int
	err     string
	trace   *models.ExecutionTrace
}

// DecisionEngine drives a single replica from Pending to Success or Failed.
type DecisionEngine struct {
	llm     domsvc.ModelInference
	sandbox domsvc.SandboxExecutor
	limits  *ratelimit.Registry
	log     *logger.Logger
	metrics domrepo.Metrics

	maxAttempts  int
	callRetries  int
	retryBackoff time.Duration
	temperature  float64
	onTransition func(in DecisionInput, from, to ReplicaState)
}

// EngineOption configures DecisionEngine.
type EngineOption func(*DecisionEngine)

func WithEngineLogger(l *logger.Logger) EngineOption {
	return func(e *DecisionEngine) { e.log = l }
}

func WithEngineMetrics(m domrepo.Metrics) EngineOption {
	return func(e *DecisionEngine) { e.metrics = m }
}

// WithAgenticAttempts bounds the generate/execute/refine cycles before fallback.
func WithAgenticAttempts(n int) EngineOption {
	return func(e *DecisionEngine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithCallRetries sets additional attempts per external call and their linear backoff.
func WithCallRetries(n int, backoff time.Duration) EngineOption {
	return func(e *DecisionEngine) {
		if n >= 0 {
			e.callRetries = n
		}
		e.retryBackoff = backoff
	}
}

func WithTemperature(t float64) EngineOption {
	return func(e *DecisionEngine) { e.temperature = t }
}

// WithTransitionObserver is called on every state change.
func WithTransitionObserver(fn func(in DecisionInput, from, to ReplicaState)) EngineOption {
	return func(e *DecisionEngine) { e.onTransition = fn }
}

func NewDecisionEngine(llm domsvc.ModelInference, sandbox domsvc.SandboxExecutor, limits *ratelimit.Registry, opts ...EngineOption) *DecisionEngine {
	e := &DecisionEngine{
		llm:          llm,
		sandbox:      sandbox,
		limits:       limits,
		log:          logger.Nop(),
		metrics:      nopMetrics{},
		maxAttempts:  3,
		callRetries:  2,
		retryBackoff: 500 * time.Millisecond,
		temperature:  0.7,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide runs the state machine. It returns a decision on Success and an
// error wrapping models.ErrReplicaFailed on Failed. Cancellation is checked
// before every transition.
func (e *DecisionEngine) Decide(ctx context.Context, in DecisionInput) (*models.ReplicaDecision, error) {
	if in.Context == nil {
		return nil, fmt.Errorf("%w: nil interval context", models.ErrReplicaFailed)
	}
	state, prev := StatePending, StatePending
	var (
		decision       *models.ReplicaDecision
		lastErr        error
		fallbackReason string
	)
	move := func(to ReplicaState) {
		if e.onTransition != nil {
			e.onTransition(in, state, to)
		}
		prev, state = state, to
	}

	for {
		if state != StateSuccess && state != StateFailed {
			if err := ctx.Err(); err != nil {
				lastErr = fmt.Errorf("%w: %w", models.ErrCancelled, err)
				move(StateFailed)
				continue
			}
		}

		switch state {
		case StatePending:
			if in.Mode == models.ModeDirect {
				move(StateDirectAttempt)
			} else {
				move(StateAgenticAttempt)
			}

		case StateAgenticAttempt:
			d, err := e.agentic(ctx, in)
			if err == nil {
				decision = d
				move(StateSuccess)
				continue
			}
			lastErr = err
			fallbackReason = err.Error()
			kind := fallbackKind(err)
			e.metrics.RecordFallback(kind)
			e.log.Warn("agentic path failed, falling back to direct",
				logger.String("model", in.Model),
				logger.Int("replica", in.Replica),
				logger.Int("interval", in.Context.Interval.Index),
				logger.String("reason", kind),
				logger.Error(err))
			move(StateFallbackAttempt)

		case StateFallbackAttempt, StateDirectAttempt:
			fallback := state == StateFallbackAttempt
			d, err := e.direct(ctx, in, fallback)
			if err != nil {
				lastErr = err
				move(StateFailed)
				continue
			}
			if fallback {
				d.FallbackReason = truncate(fallbackReason, 500)
			}
			decision = d
			move(StateSuccess)

		case StateSuccess:
			e.metrics.RecordReplica(string(decision.Path), "success")
			return decision, nil

		case StateFailed:
			e.metrics.RecordReplica(string(failedPath(prev, in.Mode)), "failed")
			return nil, fmt.Errorf("%w: model %s replica %d: %w", models.ErrReplicaFailed, in.Model, in.Replica, lastErr)
		}
	}
}

// agentic runs up to maxAttempts generate/execute/validate cycles. A sandbox
// timeout or an exhausted external call leaves immediately.
func (e *DecisionEngine) agentic(ctx context.Context, in DecisionInput) (*models.ReplicaDecision, error) {
	if e.sandbox == nil {
		return nil, fmt.Errorf("%w: no sandbox executor configured", models.ErrServiceUnavailable)
	}
	ic := in.Context
	input := sandboxInput(ic)
	var (
		code    string
		history []attemptRecord
	)
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req := domsvc.CompletionRequest{Model: in.Model, System: codeSystemPrompt, Prompt: buildCodePrompt(ic), Temperature: e.temperature}
		if attempt > 1 {
			last := history[len(history)-1]
			req = domsvc.CompletionRequest{Model: in.Model, System: refineSystemPrompt, Prompt: buildRefinePrompt(ic, code, last.err, history), Temperature: e.temperature}
		}

		var (
			out              *domsvc.ExecutionOutput
			genErr, runErr   error
			genCalls, xCalls int
		)
		// Code generation and its execution are one logical call across two services.
		err := e.limits.Do(ctx, func(ctx context.Context) error {
			var text string
			text, genErr = e.completeHeld(ctx, req, &genCalls)
			if genErr != nil {
				return genErr
			}
			code = stripFences(text)
			out, runErr = e.executeHeld(ctx, code, input, &xCalls)
			return runErr
		}, ratelimit.ServiceModel, ratelimit.ServiceSandbox)

		switch {
		case genErr != nil:
			return nil, fmt.Errorf("generate code (attempt %d): %w", attempt, genErr)
		case runErr != nil:
			return nil, fmt.Errorf("execute code (attempt %d): %w", attempt, runErr)
		case err != nil:
			return nil, err
		}

		trace, parsed, vErr := evaluateRun(code, out, attempt)
		trace.GenerationCalls, trace.ExecutionCalls = genCalls, xCalls
		if vErr != nil {
			history = append(history, attemptRecord{attempt: attempt, err: vErr.Error(), trace: trace})
			e.log.Debug("agentic attempt rejected",
				logger.String("model", in.Model),
				logger.Int("replica", in.Replica),
				logger.Int("attempt", attempt),
				logger.Error(vErr))
			continue
		}

		explanation, err := e.complete(ctx, domsvc.CompletionRequest{
			Model:       in.Model,
			System:      explainSystemPrompt,
			Prompt:      buildExplainPrompt(ic, code, trace.RawOutput),
			Temperature: e.temperature,
		})
		if err != nil {
			e.log.Debug("explanation unavailable", logger.String("model", in.Model), logger.Error(err))
			explanation = ""
		}
		return &models.ReplicaDecision{
			Model:               in.Model,
			Replica:             in.Replica,
			Decision:            parsed.Decision,
			Confidence:          parsed.Confidence,
			Rationale:           agenticRationale(parsed.Rationale, explanation, attempt),
			RelevantEvidenceIDs: parsed.EvidenceIDs,
			Path:                models.PathAgentic,
			ExecutionTrace:      trace,
		}, nil
	}
	last := "no attempts made"
	if len(history) > 0 {
		last = history[len(history)-1].err
	}
	return nil, fmt.Errorf("%w: all %d agentic attempts failed, last error: %s", models.ErrValidationFailure, e.maxAttempts, last)
}

// evaluateRun turns raw sandbox output into a trace and, on success, a parsed decision.
func evaluateRun(code string, out *domsvc.ExecutionOutput, attempt int) (*models.ExecutionTrace, *parsedDecision, error) {
	trace := &models.ExecutionTrace{
		Code:          code,
		RawOutput:     out.Stdout,
		ExitCode:      out.ExitCode,
		DurationMs:    float64(out.Duration) / float64(time.Millisecond),
		AttemptNumber: attempt,
	}
	raw, ok := lastJSONObject(out.Stdout)
	if out.ExitCode != 0 {
		trace.ErrorMessage = truncate(strings.TrimSpace(out.Stdout), 1000)
		return trace, nil, fmt.Errorf("%w: exit code %d: %s", models.ErrValidationFailure, out.ExitCode, truncate(strings.TrimSpace(out.Stdout), 500))
	}
	if !ok {
		trace.ErrorMessage = "code did not print a JSON result"
		return trace, nil, fmt.Errorf("%w: code did not return valid JSON, output: %s", models.ErrValidationFailure, truncate(out.Stdout, 500))
	}
	parsed, err := parseDecision(raw)
	if err != nil {
		trace.ErrorMessage = err.Error()
		return trace, nil, err
	}
	trace.ExecutedSuccessfully = true
	return trace, parsed, nil
}

// direct asks the model for a structured decision without code execution.
func (e *DecisionEngine) direct(ctx context.Context, in DecisionInput, fallback bool) (*models.ReplicaDecision, error) {
	req := domsvc.CompletionRequest{
		Model:       in.Model,
		System:      directSystemPrompt,
		Prompt:      buildDirectPrompt(in.Context, fallback),
		JSON:        true,
		Temperature: e.temperature,
	}
	var parsed *parsedDecision
	err := util.Retry(ctx, e.callRetries+1, e.retryBackoff, models.IsRetryable, func(ctx context.Context) error {
		release, err := e.limits.Acquire(ctx, ratelimit.ServiceModel)
		if err != nil {
			return err
		}
		defer release()
		text, err := e.timedComplete(ctx, req)
		if err != nil {
			return err
		}
		raw, ok := lastJSONObject(stripFences(text))
		if !ok {
			return fmt.Errorf("%w: model did not return a JSON object", models.ErrValidationFailure)
		}
		parsed, err = parseDecision(raw)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("direct decision: %w", err)
	}
	rationale := parsed.Rationale
	if fallback {
		rationale = "[Fallback Mode] " + rationale
	}
	return &models.ReplicaDecision{
		Model:               in.Model,
		Replica:             in.Replica,
		Decision:            parsed.Decision,
		Confidence:          parsed.Confidence,
		Rationale:           rationale,
		RelevantEvidenceIDs: parsed.EvidenceIDs,
		Path:                models.PathDirect,
	}, nil
}

// complete acquires the model limiter per attempt and retries transient failures.
func (e *DecisionEngine) complete(ctx context.Context, req domsvc.CompletionRequest) (string, error) {
	var text string
	err := util.Retry(ctx, e.callRetries+1, e.retryBackoff, retryableCall, func(ctx context.Context) error {
		release, err := e.limits.Acquire(ctx, ratelimit.ServiceModel)
		if err != nil {
			return err
		}
		defer release()
		text, err = e.timedComplete(ctx, req)
		return err
	})
	return text, err
}

// completeHeld retries a completion while the caller already holds the model
// slot. calls counts every attempt made.
func (e *DecisionEngine) completeHeld(ctx context.Context, req domsvc.CompletionRequest, calls *int) (string, error) {
	var text string
	err := util.Retry(ctx, e.callRetries+1, e.retryBackoff, retryableCall, func(ctx context.Context) error {
		*calls++
		var err error
		text, err = e.timedComplete(ctx, req)
		return err
	})
	return text, err
}

func (e *DecisionEngine) executeHeld(ctx context.Context, code string, input any, calls *int) (*domsvc.ExecutionOutput, error) {
	var out *domsvc.ExecutionOutput
	err := util.Retry(ctx, e.callRetries+1, e.retryBackoff, retryableCall, func(ctx context.Context) error {
		*calls++
		start := time.Now()
		var err error
		out, err = e.sandbox.Execute(ctx, code, input)
		e.metrics.RecordLatency("sandbox.execute", time.Since(start).Seconds())
		if err != nil {
			e.metrics.RecordError(errorKind(err))
		}
		return err
	})
	return out, err
}

func (e *DecisionEngine) timedComplete(ctx context.Context, req domsvc.CompletionRequest) (string, error) {
	start := time.Now()
	text, err := e.llm.Complete(ctx, req)
	e.metrics.RecordLatency("model.complete", time.Since(start).Seconds())
	if err != nil {
		e.metrics.RecordError(errorKind(err))
	}
	return text, err
}

// retryableCall is used for transport-level calls; only availability
// failures are retried there, and a sandbox timeout never is.
func retryableCall(err error) bool {
	return errors.Is(err, models.ErrServiceUnavailable) && !errors.Is(err, models.ErrSandboxTimeout)
}

func agenticRationale(rationale, explanation string, attempt int) string {
	parts := []string{"## Decision Rationale\n" + rationale + "\n"}
	if explanation = strings.TrimSpace(explanation); explanation != "" {
		parts = append(parts, "## Code Execution Analysis\n"+explanation+"\n")
	}
	if attempt > 1 {
		parts = append(parts, fmt.Sprintf("## Execution Notes\nThis decision required %d attempts. "+
			"The code was refined based on previous execution errors.", attempt))
	}
	return strings.Join(parts, "\n")
}

// failedPath is the execution path a replica was on when it entered Failed.
func failedPath(from ReplicaState, mode models.Mode) models.ExecutionPath {
	switch from {
	case StateAgenticAttempt:
		return models.PathAgentic
	case StatePending:
		if mode != models.ModeDirect {
			return models.PathAgentic
		}
	}
	return models.PathDirect
}

func fallbackKind(err error) string {
	switch {
	case errors.Is(err, models.ErrSandboxTimeout):
		return "sandbox_timeout"
	case errors.Is(err, models.ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, models.ErrValidationFailure):
		return "attempts_exhausted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "unknown"
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, models.ErrSandboxTimeout):
		return "sandbox_timeout"
	case errors.Is(err, models.ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, models.ErrValidationFailure):
		return "validation_failure"
	default:
		return "other"
	}
}

// sandboxInput is the JSON document exposed to generated code as `context`.
func sandboxInput(ic *models.IntervalContext) map[string]any {
	news := make([]map[string]any, 0, len(ic.Evidence))
	for _, ev := range ic.Evidence {
		item := map[string]any{
			"id":    ev.ID,
			"title": ev.Title,
			"url":   ev.URL,
			"text":  truncateRunes(ev.Text, 500),
			"score": ev.Score,
		}
		if ev.PublishedAt != nil {
			item["published_date"] = ev.PublishedAt.UTC().Format(time.RFC3339)
		} else {
			item["published_date"] = nil
		}
		news = append(news, item)
	}
	history := make([]map[string]any, 0, len(ic.PreviousDecisions))
	previous := make([]map[string]any, 0, len(ic.PreviousDecisions))
	for _, pd := range ic.PreviousDecisions {
		history = append(history, map[string]any{
			"timestamp": pd.Market.Timestamp.UTC().Format(time.RFC3339),
			"price":     pd.Market.Price,
		})
		previous = append(previous, map[string]any{
			"index":      pd.Index,
			"timestamp":  pd.Timestamp.UTC().Format(time.RFC3339),
			"decision":   string(pd.Decision),
			"confidence": pd.Confidence,
		})
	}
	market, _ := json.Marshal(ic.Market)
	var marketDoc map[string]any
	_ = json.Unmarshal(market, &marketDoc)
	return map[string]any{
		"time":               ic.Time.UTC().Format(time.RFC3339),
		"market":             marketDoc,
		"current_price":      ic.MarketState.Price,
		"news":               news,
		"recent_history":     history,
		"previous_decisions": previous,
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
