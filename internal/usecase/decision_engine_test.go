package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"Rewind/internal/domain/models"
	domsvc "Rewind/internal/domain/service"
	"Rewind/internal/service/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transitionLog struct {
	mu     sync.Mutex
	states []ReplicaState
}

func (l *transitionLog) observe(_ DecisionInput, _, to ReplicaState) {
	l.mu.Lock()
	l.states = append(l.states, to)
	l.mu.Unlock()
}

func newTestEngine(llm domsvc.ModelInference, sb domsvc.SandboxExecutor, opts ...EngineOption) *DecisionEngine {
	limits := ratelimit.NewRegistry(map[ratelimit.Service]ratelimit.Config{
		ratelimit.ServiceModel:   {MaxConcurrent: 2},
		ratelimit.ServiceSandbox: {MaxConcurrent: 1},
	})
	opts = append([]EngineOption{WithCallRetries(1, 0)}, opts...)
	return NewDecisionEngine(llm, sb, limits, opts...)
}

func agenticInput() DecisionInput {
	return DecisionInput{Context: testContext(), Model: "openai/gpt-4o", Replica: 0, Mode: models.ModeAgentic}
}

func TestDecideAgenticSuccess(t *testing.T) {
	var log transitionLog
	e := newTestEngine(happyLLM(), okSandbox(), WithTransitionObserver(log.observe))

	d, err := e.Decide(context.Background(), agenticInput())
	require.NoError(t, err)
	assert.Equal(t, models.PathAgentic, d.Path)
	assert.Equal(t, models.DecisionYes, d.Decision)
	assert.Equal(t, 0.8, d.Confidence)
	assert.Equal(t, []string{"e1"}, d.RelevantEvidenceIDs)
	require.NotNil(t, d.ExecutionTrace)
	assert.Equal(t, 1, d.ExecutionTrace.AttemptNumber)
	assert.True(t, d.ExecutionTrace.ExecutedSuccessfully)
	assert.Equal(t, "result = {'decision': 'YES', 'confidence': 0.8}", d.ExecutionTrace.Code)
	assert.Contains(t, d.Rationale, "## Decision Rationale\nmomentum")
	assert.Contains(t, d.Rationale, "## Code Execution Analysis\nThe code weighed the news.")
	assert.NotContains(t, d.Rationale, "## Execution Notes")
	assert.Equal(t, []ReplicaState{StateAgenticAttempt, StateSuccess}, log.states)
}

func TestDecideSandboxTimeoutFallsBackToDirect(t *testing.T) {
	var log transitionLog
	sb := failingSandbox(models.ErrSandboxTimeout)
	e := newTestEngine(happyLLM(), sb, WithTransitionObserver(log.observe))

	d, err := e.Decide(context.Background(), agenticInput())
	require.NoError(t, err)
	assert.Equal(t, models.PathDirect, d.Path)
	assert.Nil(t, d.ExecutionTrace)
	assert.True(t, strings.HasPrefix(d.Rationale, "[Fallback Mode] "))
	assert.Contains(t, d.FallbackReason, "timed out")
	assert.Equal(t, 1, sb.Calls(), "a timeout is never retried")
	assert.Equal(t, []ReplicaState{StateAgenticAttempt, StateFallbackAttempt, StateSuccess}, log.states)
}

func TestDecideRefinesAfterValidationFailure(t *testing.T) {
	llm := happyLLM()
	sb := &fakeSandbox{fn: func(n int) (*domsvc.ExecutionOutput, error) {
		if n == 1 {
			return &domsvc.ExecutionOutput{Stdout: `{"decision": "MAYBE", "confidence": 0.5}`}, nil
		}
		return &domsvc.ExecutionOutput{Stdout: validDecisionJSON}, nil
	}}
	e := newTestEngine(llm, sb)

	d, err := e.Decide(context.Background(), agenticInput())
	require.NoError(t, err)
	assert.Equal(t, models.PathAgentic, d.Path)
	assert.Equal(t, 2, d.ExecutionTrace.AttemptNumber)
	assert.Equal(t, 1, llm.count(refineSystemPrompt))
	assert.Contains(t, d.Rationale, "## Execution Notes\nThis decision required 2 attempts.")
}

func TestDecideRejectsNonZeroExitEvenWithJSON(t *testing.T) {
	sb := &fakeSandbox{fn: func(int) (*domsvc.ExecutionOutput, error) {
		return &domsvc.ExecutionOutput{Stdout: validDecisionJSON + "\nTraceback: boom", ExitCode: 1}, nil
	}}
	e := newTestEngine(happyLLM(), sb, WithAgenticAttempts(2))

	d, err := e.Decide(context.Background(), agenticInput())
	require.NoError(t, err)
	assert.Equal(t, models.PathDirect, d.Path)
	assert.Equal(t, 2, sb.Calls())
	assert.Contains(t, d.FallbackReason, "all 2 agentic attempts failed")
}

func TestDecideMissingConfidenceIsValidationFailure(t *testing.T) {
	sb := &fakeSandbox{fn: func(int) (*domsvc.ExecutionOutput, error) {
		return &domsvc.ExecutionOutput{Stdout: `{"decision": "YES"}`}, nil
	}}
	e := newTestEngine(happyLLM(), sb, WithAgenticAttempts(1))

	d, err := e.Decide(context.Background(), agenticInput())
	require.NoError(t, err)
	assert.Equal(t, models.PathDirect, d.Path)
	assert.Contains(t, d.FallbackReason, "missing 'confidence'")
}

func TestDecideDirectModeSkipsSandbox(t *testing.T) {
	var log transitionLog
	sb := okSandbox()
	e := newTestEngine(happyLLM(), sb, WithTransitionObserver(log.observe))
	in := agenticInput()
	in.Mode = models.ModeDirect

	d, err := e.Decide(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, models.PathDirect, d.Path)
	assert.Equal(t, models.DecisionNo, d.Decision)
	assert.Equal(t, "priced in", d.Rationale)
	assert.Empty(t, d.FallbackReason)
	assert.Zero(t, sb.Calls())
	assert.Equal(t, []ReplicaState{StateDirectAttempt, StateSuccess}, log.states)
}

func TestDecideDirectRetriesOutOfRangeConfidence(t *testing.T) {
	llm := &fakeLLM{fn: func(req domsvc.CompletionRequest, n int) (string, error) {
		if n == 1 {
			return `{"decision": "YES", "confidence": 1.7}`, nil
		}
		return `{"decision": "yes", "confidence": "0.9", "rationale": "ok"}`, nil
	}}
	e := newTestEngine(llm, okSandbox())
	in := agenticInput()
	in.Mode = models.ModeDirect

	d, err := e.Decide(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionYes, d.Decision)
	assert.Equal(t, 0.9, d.Confidence)
	assert.Equal(t, 2, llm.count(directSystemPrompt))
}

func TestDecideFailsWhenEveryPathFails(t *testing.T) {
	var log transitionLog
	llm := &fakeLLM{fn: func(domsvc.CompletionRequest, int) (string, error) {
		return "", models.ErrServiceUnavailable
	}}
	e := newTestEngine(llm, failingSandbox(models.ErrServiceUnavailable), WithTransitionObserver(log.observe))

	d, err := e.Decide(context.Background(), agenticInput())
	require.Error(t, err)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, models.ErrReplicaFailed)
	assert.ErrorIs(t, err, models.ErrServiceUnavailable)
	assert.Equal(t, []ReplicaState{StateAgenticAttempt, StateFallbackAttempt, StateFailed}, log.states)
	// one code-generation call plus one retry, then the same for the fallback
	assert.Equal(t, 2, llm.count(codeSystemPrompt))
	assert.Equal(t, 2, llm.count(directSystemPrompt))
}

func TestDecideExplanationFailureIsNotFatal(t *testing.T) {
	base := happyLLM()
	llm := &fakeLLM{fn: func(req domsvc.CompletionRequest, n int) (string, error) {
		if req.System == explainSystemPrompt {
			return "", models.ErrServiceUnavailable
		}
		return base.fn(req, n)
	}}
	e := newTestEngine(llm, okSandbox())

	d, err := e.Decide(context.Background(), agenticInput())
	require.NoError(t, err)
	assert.Equal(t, models.PathAgentic, d.Path)
	assert.NotContains(t, d.Rationale, "## Code Execution Analysis")
}

func TestDecideObservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := newTestEngine(happyLLM(), okSandbox())

	_, err := e.Decide(ctx, agenticInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrCancelled)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDecideTraceCountsRetriedCalls(t *testing.T) {
	sb := &fakeSandbox{fn: func(n int) (*domsvc.ExecutionOutput, error) {
		if n == 1 {
			return nil, models.ErrServiceUnavailable
		}
		return &domsvc.ExecutionOutput{Stdout: validDecisionJSON}, nil
	}}
	e := newTestEngine(happyLLM(), sb)

	d, err := e.Decide(context.Background(), agenticInput())
	require.NoError(t, err)
	require.NotNil(t, d.ExecutionTrace)
	assert.Equal(t, 1, d.ExecutionTrace.AttemptNumber)
	assert.Equal(t, 1, d.ExecutionTrace.GenerationCalls)
	assert.Equal(t, 2, d.ExecutionTrace.ExecutionCalls)
}

type replicaMetrics struct {
	nopMetrics
	mu       sync.Mutex
	outcomes []string
}

func (m *replicaMetrics) RecordReplica(path, outcome string) {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, path+"/"+outcome)
	m.mu.Unlock()
}

func TestDecideFailedMetricUsesPathOfFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := &replicaMetrics{}
	_, err := newTestEngine(happyLLM(), okSandbox(), WithEngineMetrics(m)).Decide(ctx, agenticInput())
	require.Error(t, err)

	down := &fakeLLM{fn: func(domsvc.CompletionRequest, int) (string, error) {
		return "", models.ErrServiceUnavailable
	}}
	_, err = newTestEngine(down, okSandbox(), WithEngineMetrics(m)).Decide(context.Background(), agenticInput())
	require.Error(t, err)

	direct := agenticInput()
	direct.Mode = models.ModeDirect
	_, err = newTestEngine(happyLLM(), okSandbox(), WithEngineMetrics(m)).Decide(ctx, direct)
	require.Error(t, err)

	assert.Equal(t, []string{"agentic/failed", "direct/failed", "direct/failed"}, m.outcomes)
}

func TestLastJSONObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, true},
		{"noise before", "loading model\n{\"a\":1}\n", `{"a":1}`, true},
		{"last wins", `{"a":1} then {"b":{"c":2}}`, `{"b":{"c":2}}`, true},
		{"braces in strings", `{"text":"use } and {"}`, `{"text":"use } and {"}`, true},
		{"unbalanced tail", `{"a":1} {"b":`, `{"a":1}`, true},
		{"none", "Traceback (most recent call last)", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := lastJSONObject(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, "x = 1", stripFences("```python\nx = 1\n```"))
	assert.Equal(t, "x = 1", stripFences("```\nx = 1\n```"))
	assert.Equal(t, "x = 1", stripFences("  x = 1  "))
}
