package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"Rewind/internal/domain/models"
	domsvc "Rewind/internal/domain/service"
	"Rewind/internal/service/ratelimit"
	"Rewind/pkg/logger"
	"Rewind/pkg/util"
)

// Researcher turns market state into search queries and collects evidence.
type Researcher struct {
	llm    domsvc.ModelInference
	search domsvc.EvidenceSearch
	limits *ratelimit.Registry
	log    *logger.Logger

	minQueries      int
	maxQueries      int
	resultsPerQuery int
	callRetries     int
	retryBackoff    time.Duration
}

type ResearcherOption func(*Researcher)

func WithResearcherLogger(l *logger.Logger) ResearcherOption {
	return func(r *Researcher) { r.log = l }
}

// WithQueryBounds sets how many queries are requested and kept.
func WithQueryBounds(minQ, maxQ int) ResearcherOption {
	return func(r *Researcher) {
		if minQ > 0 && maxQ >= minQ {
			r.minQueries, r.maxQueries = minQ, maxQ
		}
	}
}

func WithResultsPerQuery(n int) ResearcherOption {
	return func(r *Researcher) {
		if n > 0 {
			r.resultsPerQuery = n
		}
	}
}

func WithResearchRetries(n int, backoff time.Duration) ResearcherOption {
	return func(r *Researcher) {
		if n >= 0 {
			r.callRetries = n
		}
		r.retryBackoff = backoff
	}
}

func NewResearcher(llm domsvc.ModelInference, search domsvc.EvidenceSearch, limits *ratelimit.Registry, opts ...ResearcherOption) *Researcher {
	r := &Researcher{
		llm:             llm,
		search:          search,
		limits:          limits,
		log:             logger.Nop(),
		minQueries:      3,
		maxQueries:      5,
		resultsPerQuery: 2,
		callRetries:     2,
		retryBackoff:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Queries asks the model for search queries. It never fails: if generation
// is unavailable the market title itself becomes the only query.
func (r *Researcher) Queries(ctx context.Context, info models.MarketInfo, at time.Time, model string) []string {
	fallback := []string{orDefault(info.Title, info.Slug)}
	if r.llm == nil || model == "" {
		return fallback
	}
	req := domsvc.CompletionRequest{
		Model:       model,
		System:      querySystemPrompt,
		Prompt:      buildQueryPrompt(info, at, r.minQueries, r.maxQueries),
		JSON:        true,
		Temperature: 0.3,
	}
	var queries []string
	err := util.Retry(ctx, r.callRetries+1, r.retryBackoff, models.IsRetryable, func(ctx context.Context) error {
		release, err := r.limits.Acquire(ctx, ratelimit.ServiceModel)
		if err != nil {
			return err
		}
		defer release()
		text, err := r.llm.Complete(ctx, req)
		if err != nil {
			return err
		}
		queries, err = decodeQueries(text)
		return err
	})
	if err != nil || len(queries) == 0 {
		r.log.Warn("query generation failed, using market title",
			logger.String("market", info.Slug),
			logger.Time("at", at),
			logger.String("reason", errString(err)))
		return fallback
	}
	if len(queries) > r.maxQueries {
		queries = queries[:r.maxQueries]
	}
	return queries
}

// Gather runs every query with the upper bound and merges results by URL.
// A failing query is logged and skipped.
func (r *Researcher) Gather(ctx context.Context, queries []string, bound time.Time) []models.Evidence {
	if r.search == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []models.Evidence
	for _, q := range queries {
		if ctx.Err() != nil {
			break
		}
		var items []models.Evidence
		err := util.Retry(ctx, r.callRetries+1, r.retryBackoff, retryableCall, func(ctx context.Context) error {
			release, err := r.limits.Acquire(ctx, ratelimit.ServiceSearch)
			if err != nil {
				return err
			}
			defer release()
			items, err = r.search.Search(ctx, q, bound, r.resultsPerQuery)
			return err
		})
		if err != nil {
			r.log.Warn("evidence search failed", logger.String("query", q), logger.Error(err))
			continue
		}
		for _, ev := range items {
			key := ev.URL
			if key == "" {
				key = ev.ID
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, ev)
		}
	}
	return out
}

func decodeQueries(text string) ([]string, error) {
	raw, ok := lastJSONObject(stripFences(text))
	if !ok {
		return nil, models.ErrValidationFailure
	}
	var payload struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, models.ErrValidationFailure
	}
	out := make([]string, 0, len(payload.Queries))
	seen := make(map[string]struct{}, len(payload.Queries))
	for _, q := range payload.Queries {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if _, dup := seen[key]; q == "" || dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, models.ErrValidationFailure
	}
	return out, nil
}

func errString(err error) string {
	if err == nil {
		return "no queries returned"
	}
	return err.Error()
}
