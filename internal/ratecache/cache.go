// Package ratecache fronts the rate-plan fetcher with a short-TTL
// in-memory cache built on patrickmn/go-cache, since rate plans change
// rarely but are
// looked up on every metering estimate.
package ratecache

import (
	"context"
	"time"

	goCache "github.com/patrickmn/go-cache"

	"github.com/ridgeline/meterbill/internal/domain/rateplan"
	"github.com/ridgeline/meterbill/internal/logger"
	"github.com/ridgeline/meterbill/internal/rateplanclient"
)

// CachingFetcher decorates a rateplanclient.Fetcher with a TTL cache
// keyed on rate plan id. A cache miss or expiry falls through to the
// wrapped fetcher; fetch errors are never cached.
type CachingFetcher struct {
	next   rateplanclient.Fetcher
	cache  *goCache.Cache
	logger *logger.Logger
}

// New wraps next with a cache using ttl per entry and cleaning up
// expired entries every 2*ttl. A non-positive ttl disables
// caching entirely and every call passes through to next.
func New(next rateplanclient.Fetcher, ttl time.Duration, log *logger.Logger) rateplanclient.Fetcher {
	if ttl <= 0 {
		return next
	}
	return &CachingFetcher{
		next:   next,
		cache:  goCache.New(ttl, ttl*2),
		logger: log,
	}
}

func (c *CachingFetcher) Fetch(ctx context.Context, ratePlanID string) (*rateplan.RatePlan, error) {
	if cached, ok := c.cache.Get(ratePlanID); ok {
		plan := cached.(*rateplan.RatePlan)
		return plan, nil
	}

	plan, err := c.next.Fetch(ctx, ratePlanID)
	if err != nil {
		return nil, err
	}

	c.cache.SetDefault(ratePlanID, plan)
	return plan, nil
}
