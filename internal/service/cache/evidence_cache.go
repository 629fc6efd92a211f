package cache

import (
	"context"
	"time"

	"Rewind/internal/domain/models"
	"Rewind/internal/domain/service"
	pkgcache "Rewind/pkg/cache"
)

// EvidenceCache is a read-through cache over an EvidenceSearch keyed by
// query, bound and limit.
type EvidenceCache struct {
	next  service.EvidenceSearch
	store pkgcache.Service
	ttl   time.Duration
}

var _ service.EvidenceSearch = (*EvidenceCache)(nil)

// NewEvidenceCache wraps next.
func NewEvidenceCache(next service.EvidenceSearch, store pkgcache.Service, ttl time.Duration) *EvidenceCache {
	return &EvidenceCache{next: next, store: store, ttl: ttl}
}

func (c *EvidenceCache) Search(ctx context.Context, query string, upperBound time.Time, limit int) ([]models.Evidence, error) {
	key := pkgcache.GenerateKeyWithParams("evidence", hashQuery(query), upperBound.Unix(), limit)
	return pkgcache.GetOrLoad(ctx, c.store, key, c.ttl, func(ctx context.Context) ([]models.Evidence, error) {
		return c.next.Search(ctx, query, upperBound, limit)
	})
}
