package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"Rewind/internal/domain/models"
	domsvc "Rewind/internal/domain/service"
	"Rewind/internal/service/ratelimit"
	"Rewind/pkg/util"
)

// BuildInput is what the builder needs to know about one interval.
type BuildInput struct {
	Market   models.MarketInfo
	Interval models.Interval
	// Model drives query generation.
	Model string
	// Prior is a snapshot of already-aggregated earlier intervals.
	Prior []models.PriorDecision
}

// ContextBuilder assembles the point-in-time view for one interval. Nothing
// timestamped after the interval bound ever reaches the returned context.
type ContextBuilder struct {
	market       domsvc.MarketService
	researcher   *Researcher
	limits       *ratelimit.Registry
	keepUndated  bool
	callRetries  int
	retryBackoff time.Duration
}

type BuilderOption func(*ContextBuilder)

// WithKeepUndated keeps evidence without a publication date.
func WithKeepUndated(keep bool) BuilderOption {
	return func(b *ContextBuilder) { b.keepUndated = keep }
}

func WithBuilderRetries(n int, backoff time.Duration) BuilderOption {
	return func(b *ContextBuilder) {
		if n >= 0 {
			b.callRetries = n
		}
		b.retryBackoff = backoff
	}
}

func NewContextBuilder(market domsvc.MarketService, researcher *Researcher, limits *ratelimit.Registry, opts ...BuilderOption) *ContextBuilder {
	b := &ContextBuilder{
		market:       market,
		researcher:   researcher,
		limits:       limits,
		callRetries:  2,
		retryBackoff: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the IntervalContext bounded by in.Interval.Bound().
func (b *ContextBuilder) Build(ctx context.Context, in BuildInput) (*models.IntervalContext, error) {
	bound := in.Interval.Bound()

	state, err := b.stateAt(ctx, in.Market.TokenID, bound)
	if err != nil {
		return nil, fmt.Errorf("market state at %s: %w", bound.Format(time.RFC3339), err)
	}

	var (
		queries  []string
		evidence []models.Evidence
	)
	if b.researcher != nil {
		queries = b.researcher.Queries(ctx, in.Market, bound, in.Model)
		evidence = b.researcher.Gather(ctx, queries, bound)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &models.IntervalContext{
		Interval:          in.Interval,
		Time:              bound,
		Market:            in.Market,
		MarketState:       *state,
		Evidence:          visibleEvidence(evidence, bound, b.keepUndated),
		PreviousDecisions: visiblePrior(in.Prior, in.Interval),
		Queries:           queries,
	}, nil
}

func (b *ContextBuilder) stateAt(ctx context.Context, tokenID string, bound time.Time) (*models.MarketState, error) {
	if tokenID == "" || b.market == nil {
		return &models.MarketState{Timestamp: bound, Price: 0.5, Estimated: true}, nil
	}
	var state *models.MarketState
	err := util.Retry(ctx, b.callRetries+1, b.retryBackoff, retryableCall, func(ctx context.Context) error {
		release, err := b.limits.Acquire(ctx, ratelimit.ServiceMarket)
		if err != nil {
			return err
		}
		defer release()
		state, err = b.market.StateAt(ctx, tokenID, bound)
		return err
	})
	if err != nil {
		return nil, err
	}
	if state.Timestamp.After(bound) {
		return nil, fmt.Errorf("%w: market state at %s is after bound", models.ErrValidationFailure, state.Timestamp.Format(time.RFC3339))
	}
	return state, nil
}

// visibleEvidence drops anything published after bound. The search service
// is asked to do the same; results are filtered again here.
func visibleEvidence(items []models.Evidence, bound time.Time, keepUndated bool) []models.Evidence {
	out := make([]models.Evidence, 0, len(items))
	for _, ev := range items {
		if ev.VisibleAt(bound, keepUndated) {
			out = append(out, ev)
		}
	}
	return out
}

func visiblePrior(prior []models.PriorDecision, iv models.Interval) []models.PriorDecision {
	out := make([]models.PriorDecision, 0, len(prior))
	for _, p := range prior {
		if p.Index < iv.Index && !p.Timestamp.After(iv.Bound()) && !p.Market.Timestamp.After(iv.Bound()) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Metadata resolves market metadata under the market limiter.
func (b *ContextBuilder) Metadata(ctx context.Context, slug string) (*models.MarketInfo, error) {
	if b.market == nil {
		return &models.MarketInfo{Slug: slug, Title: slug}, nil
	}
	var info *models.MarketInfo
	err := util.Retry(ctx, b.callRetries+1, b.retryBackoff, retryableCall, func(ctx context.Context) error {
		release, err := b.limits.Acquire(ctx, ratelimit.ServiceMarket)
		if err != nil {
			return err
		}
		defer release()
		info, err = b.market.Metadata(ctx, slug)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("market metadata %s: %w", slug, err)
	}
	return info, nil
}
