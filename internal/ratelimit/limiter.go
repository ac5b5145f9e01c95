package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Request describes one rate limit check.
type Request struct {
	// Identifier is "ip:<addr>" for anonymous callers or "token:<id>" for API
	// tokens and "user:<id>" for sessions.
	Identifier string
	Rule       Rule
	// Token marks requests authenticated with an API token.
	Token bool
	// TokenRateLimit is the token's own requests-per-hour quota, if any.
	TokenRateLimit int
}

// Info is the public rate limit state reported to the client.
type Info struct {
	Limit      int
	Remaining  int
	Reset      time.Time
	IsBlocked  bool
	RetryAfter time.Duration
}

// Result is the outcome of a check.
type Result struct {
	Success bool
	Info    Info
}

// Checker decides whether a request may proceed.
type Checker interface {
	Allow(ctx context.Context, req Request) (Result, error)
}

var _ Checker = (*Limiter)(nil)

// Limiter implements fixed window limiting over a Store.
type Limiter struct {
	store   Store
	metrics *Metrics
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithMetrics reports decisions to m.
func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithNow overrides the limiter clock.
func WithNow(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a Limiter.
func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{store: store, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Key returns the store key for an identifier under a rule.
func Key(rule Rule, identifier string) string {
	return rule.Name + ":" + identifier
}

// ClientType returns the identifier kind ("ip", "token", "user").
func ClientType(identifier string) string {
	kind, _, ok := strings.Cut(identifier, ":")
	if !ok {
		return "unknown"
	}
	return kind
}

// Allow implements Checker.
func (l *Limiter) Allow(ctx context.Context, req Request) (Result, error) {
	limit, window := req.Rule.limits(req.Token, req.TokenRateLimit)
	key := Key(req.Rule, req.Identifier)
	l.metrics.request(req.Rule.Name, ClientType(req.Identifier))

	if req.Rule.BlockFor > 0 {
		blocked, err := l.store.BlockedFor(ctx, key)
		if err != nil {
			return Result{}, errors.Wrap(err, "check block")
		}
		if blocked > 0 {
			l.metrics.hit(req.Rule.Name, ClientType(req.Identifier))
			return Result{Info: Info{
				Limit:      limit,
				Reset:      l.now().Add(blocked),
				IsBlocked:  true,
				RetryAfter: blocked,
			}}, nil
		}
	}

	rec, err := l.store.Increment(ctx, key, window)
	if err != nil {
		return Result{}, errors.Wrap(err, "increment")
	}

	info := Info{
		Limit:     limit,
		Remaining: max(limit-int(rec.Count), 0),
		Reset:     rec.Reset,
	}
	if rec.Count <= int64(limit) {
		return Result{Success: true, Info: info}, nil
	}

	retryAfter := req.Rule.BlockFor
	if retryAfter > 0 {
		if err := l.store.Block(ctx, key, retryAfter); err != nil {
			return Result{}, errors.Wrap(err, "block")
		}
		info.Reset = l.now().Add(retryAfter)
	} else {
		retryAfter = rec.Reset.Sub(l.now())
	}
	// A window ending right now still has to tell the client to back off.
	if retryAfter < time.Millisecond {
		retryAfter = time.Millisecond
	}

	info.IsBlocked = true
	info.RetryAfter = retryAfter
	l.metrics.hit(req.Rule.Name, ClientType(req.Identifier))
	return Result{Info: info}, nil
}
