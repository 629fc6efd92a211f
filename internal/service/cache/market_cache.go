package cache

import (
	"context"
	"time"

	"Rewind/internal/domain/models"
	"Rewind/internal/domain/service"
	pkgcache "Rewind/pkg/cache"
)

// MarketCache is a read-through cache over a MarketService. Metadata is
// cached for the configured TTL. Historical states never change once the
// timestamp is in the past, so they are cached for the state TTL, except
// estimates which are always re-read.
type MarketCache struct {
	next        service.MarketService
	store       pkgcache.Service
	metadataTTL time.Duration
	stateTTL    time.Duration
	now         func() time.Time
}

var _ service.MarketService = (*MarketCache)(nil)

// NewMarketCache wraps next. A zero stateTTL disables state caching.
func NewMarketCache(next service.MarketService, store pkgcache.Service, metadataTTL, stateTTL time.Duration) *MarketCache {
	return &MarketCache{next: next, store: store, metadataTTL: metadataTTL, stateTTL: stateTTL, now: time.Now}
}

func (c *MarketCache) Metadata(ctx context.Context, slug string) (*models.MarketInfo, error) {
	key := pkgcache.GenerateKeyWithParams("market:meta", slug)
	return pkgcache.GetOrLoad(ctx, c.store, key, c.metadataTTL, func(ctx context.Context) (*models.MarketInfo, error) {
		return c.next.Metadata(ctx, slug)
	})
}

func (c *MarketCache) StateAt(ctx context.Context, tokenID string, at time.Time) (*models.MarketState, error) {
	if c.store == nil || c.stateTTL <= 0 || !at.Before(c.now()) {
		return c.next.StateAt(ctx, tokenID, at)
	}
	key := pkgcache.GenerateKeyWithParams("market:state", tokenID, at.Unix())
	var st models.MarketState
	if err := c.store.Get(ctx, key, &st); err == nil {
		return &st, nil
	}
	fresh, err := c.next.StateAt(ctx, tokenID, at)
	if err != nil {
		return nil, err
	}
	if !fresh.Estimated {
		_ = c.store.Set(ctx, key, fresh, c.stateTTL)
	}
	return fresh, nil
}
