package ratelimit

import (
	"context"
	"fmt"
	"sort"
)

// Service names an external dependency with its own limiter.
type Service string

const (
	ServiceMarket  Service = "market"
	ServiceSearch  Service = "search"
	ServiceModel   Service = "model"
	ServiceSandbox Service = "sandbox"
)

// acquisitionOrder is the single global order for multi-service acquisition.
// Lower ranks are always acquired first and released last.
var acquisitionOrder = map[Service]int{
	ServiceMarket:  0,
	ServiceSearch:  1,
	ServiceModel:   2,
	ServiceSandbox: 3,
}

// Registry holds one limiter per service.
type Registry struct {
	limiters map[Service]*Limiter
}

// NewRegistry builds limiters for every configured service.
func NewRegistry(cfgs map[Service]Config, opts ...Option) *Registry {
	r := &Registry{limiters: make(map[Service]*Limiter, len(cfgs))}
	for svc, cfg := range cfgs {
		r.limiters[svc] = New(string(svc), cfg, opts...)
	}
	return r
}

// Limiter returns the limiter for svc, or nil if none is configured.
func (r *Registry) Limiter(svc Service) *Limiter {
	if r == nil {
		return nil
	}
	return r.limiters[svc]
}

// Acquire takes a slot on every named service in the fixed global order and
// returns a release that frees them in reverse. Services without a limiter
// are admitted immediately, as is everything on a nil Registry. If any
// acquisition fails, slots already taken are released before returning.
func (r *Registry) Acquire(ctx context.Context, services ...Service) (Release, error) {
	ordered := make([]Service, 0, len(services))
	seen := make(map[Service]struct{}, len(services))
	for _, s := range services {
		if _, dup := seen[s]; dup {
			continue
		}
		if _, known := acquisitionOrder[s]; !known {
			return nil, fmt.Errorf("ratelimit: unknown service %q", s)
		}
		seen[s] = struct{}{}
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return acquisitionOrder[ordered[i]] < acquisitionOrder[ordered[j]]
	})

	held := make([]Release, 0, len(ordered))
	if r == nil {
		return func() {}, nil
	}
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for _, s := range ordered {
		l := r.limiters[s]
		if l == nil {
			continue
		}
		rel, err := l.Acquire(ctx)
		if err != nil {
			releaseAll()
			return nil, fmt.Errorf("ratelimit %s: %w", s, err)
		}
		held = append(held, rel)
	}
	return releaseAll, nil
}

// Do runs fn while holding slots on every named service.
func (r *Registry) Do(ctx context.Context, fn func(ctx context.Context) error, services ...Service) error {
	release, err := r.Acquire(ctx, services...)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}
