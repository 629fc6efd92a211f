package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Rewind/internal/domain/models"
	domsvc "Rewind/internal/domain/service"
)

const validDecisionJSON = `{"decision": "YES", "confidence": 0.8, "rationale": "momentum", "relevant_evidence_ids": ["e1"]}`

type fakeLLM struct {
	mu    sync.Mutex
	calls []domsvc.CompletionRequest
	fn    func(req domsvc.CompletionRequest, n int) (string, error)
}

func (f *fakeLLM) Complete(ctx context.Context, req domsvc.CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := 0
	for _, c := range f.calls {
		if c.System == req.System {
			n++
		}
	}
	f.mu.Unlock()
	return f.fn(req, n)
}

func (f *fakeLLM) count(system string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.System == system {
			n++
		}
	}
	return n
}

// happyLLM answers every prompt kind with a well-formed reply.
func happyLLM() *fakeLLM {
	return &fakeLLM{fn: func(req domsvc.CompletionRequest, _ int) (string, error) {
		switch req.System {
		case codeSystemPrompt, refineSystemPrompt:
			return "```python\nresult = {'decision': 'YES', 'confidence': 0.8}\n```", nil
		case explainSystemPrompt:
			return "The code weighed the news.", nil
		case directSystemPrompt:
			return `{"decision": "NO", "confidence": 0.6, "rationale": "priced in", "relevant_evidence_ids": []}`, nil
		case querySystemPrompt:
			return `{"queries": ["election polls", "candidate news", "debate results"]}`, nil
		}
		return "", fmt.Errorf("unexpected prompt %q", req.System)
	}}
}

type fakeSandbox struct {
	mu    sync.Mutex
	calls int
	fn    func(n int) (*domsvc.ExecutionOutput, error)
}

func (f *fakeSandbox) Execute(ctx context.Context, code string, input any) (*domsvc.ExecutionOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.fn(n)
}

func (f *fakeSandbox) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okSandbox() *fakeSandbox {
	return &fakeSandbox{fn: func(int) (*domsvc.ExecutionOutput, error) {
		return &domsvc.ExecutionOutput{Stdout: "analysing...\n" + validDecisionJSON + "\n", Duration: 120 * time.Millisecond}, nil
	}}
}

func failingSandbox(err error) *fakeSandbox {
	return &fakeSandbox{fn: func(int) (*domsvc.ExecutionOutput, error) { return nil, err }}
}

type fakeMarket struct {
	info    models.MarketInfo
	history []models.PricePoint
	err     error
}

func (f *fakeMarket) Metadata(ctx context.Context, slug string) (*models.MarketInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info := f.info
	info.Slug = slug
	return &info, nil
}

func (f *fakeMarket) StateAt(ctx context.Context, tokenID string, at time.Time) (*models.MarketState, error) {
	if f.err != nil {
		return nil, f.err
	}
	var best *models.PricePoint
	for i := range f.history {
		p := f.history[i]
		if !p.Time.After(at) && (best == nil || p.Time.After(best.Time)) {
			best = &p
		}
	}
	if best == nil {
		return &models.MarketState{Timestamp: at, Price: 0.5, Estimated: true}, nil
	}
	return &models.MarketState{Timestamp: best.Time, Price: best.Price}, nil
}

// fakeSearch returns its whole corpus regardless of the bound, so the
// callers' own filtering is what keeps contexts free of lookahead.
type fakeSearch struct {
	mu      sync.Mutex
	corpus  []models.Evidence
	err     error
	queries []string
}

func (f *fakeSearch) Search(ctx context.Context, query string, upperBound time.Time, limit int) ([]models.Evidence, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Evidence, len(f.corpus))
	copy(out, f.corpus)
	return out, nil
}

func testContext() *models.IntervalContext {
	at := time.Date(2024, 1, 1, 0, 20, 0, 0, time.UTC)
	return &models.IntervalContext{
		Interval:    models.Interval{Index: 0, Start: at.Add(-20 * time.Minute), End: at},
		Time:        at,
		Market:      models.MarketInfo{Slug: "will-it-rain", Title: "Will it rain?"},
		MarketState: models.MarketState{Timestamp: at, Price: 0.42},
		Evidence:    []models.Evidence{{ID: "e1", Title: "Forecast", Text: "clouds"}},
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
