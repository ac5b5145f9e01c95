package ratelimit

import (
	"context"
	"time"

	"github.com/xenking/octohub/internal/cache"
)

var _ Checker = (*CachedLimiter)(nil)

// CachedLimiter answers repeated requests from an already blocked identifier
// without touching the store.
//
// Only denials are cached. Every allowed request reaches the underlying
// Checker, so counters are never behind the real traffic.
type CachedLimiter struct {
	next  Checker
	cache *cache.Cache[Result]
	ttl   time.Duration
	now   func() time.Time
}

// NewCachedLimiter wraps next. A cached denial lives for at most ttl and
// never longer than its own RetryAfter.
func NewCachedLimiter(next Checker, ttl time.Duration) *CachedLimiter {
	return &CachedLimiter{
		next:  next,
		cache: cache.New[Result](ttl, 2*ttl),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Allow implements Checker.
func (c *CachedLimiter) Allow(ctx context.Context, req Request) (Result, error) {
	key := Key(req.Rule, req.Identifier)
	if res, ok := c.cache.Get(key); ok {
		left := res.Info.Reset.Sub(c.now())
		if left > 0 {
			res.Info.RetryAfter = left
			return res, nil
		}
		c.cache.Delete(key)
	}

	res, err := c.next.Allow(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if !res.Success && res.Info.RetryAfter > 0 {
		ttl := min(c.ttl, res.Info.RetryAfter)
		res.Info.Reset = c.now().Add(res.Info.RetryAfter)
		c.cache.Set(key, res, ttl)
	}
	return res, nil
}
