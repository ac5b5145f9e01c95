package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/octohub/internal/apperr"
	"github.com/xenking/octohub/internal/cache"
	"github.com/xenking/octohub/pkg/httpmiddleware"
)

// DefaultSessionCookie is the session cookie name.
const DefaultSessionCookie = "octohub_session"

// lastUsedResolution bounds how often a token's last_used_at is written.
const lastUsedResolution = time.Minute

// TokenLookup finds tokens by secret digest.
type TokenLookup interface {
	// FindByHash returns ErrInvalidCredential when no token has the digest.
	// Revoked and expired tokens are returned; the resolver rejects them.
	FindByHash(ctx context.Context, hash string) (*APIToken, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// SessionVerifier turns a session cookie value into a SessionContext.
type SessionVerifier interface {
	// Verify returns ErrInvalidCredential for malformed, expired, revoked or
	// unknown sessions.
	Verify(ctx context.Context, raw string) (*SessionContext, error)
}

// Options selects the credentials a route accepts.
type Options struct {
	AllowSession bool
	AllowToken   bool
}

// ResolverConfig holds non-dependency resolver settings.
type ResolverConfig struct {
	Pepper        []byte
	SessionCookie string
	// TokenCacheTTL enables a read-through token cache when positive.
	TokenCacheTTL time.Duration
	MeterProvider metric.MeterProvider
}

// Resolver authenticates requests.
type Resolver struct {
	tokens   TokenLookup
	sessions SessionVerifier
	pepper   []byte
	cookie   string
	cache    *cache.Cache[*APIToken]
	touched  *cache.Cache[struct{}]
	now      func() time.Time

	resolved metric.Int64Counter
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig, tokens TokenLookup, sessions SessionVerifier) (*Resolver, error) {
	mp := cfg.MeterProvider
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	resolved, err := mp.Meter("github.com/xenking/octohub/internal/domain/auth").Int64Counter("auth.resolve",
		metric.WithDescription("Authentication attempts by credential kind and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create counter")
	}

	r := &Resolver{
		tokens:   tokens,
		sessions: sessions,
		pepper:   cfg.Pepper,
		cookie:   cfg.SessionCookie,
		touched:  cache.New[struct{}](lastUsedResolution, 2*lastUsedResolution),
		now:      time.Now,
		resolved: resolved,
	}
	if r.cookie == "" {
		r.cookie = DefaultSessionCookie
	}
	if cfg.TokenCacheTTL > 0 {
		r.cache = cache.New[*APIToken](cfg.TokenCacheTTL, 2*cfg.TokenCacheTTL)
	}
	return r, nil
}

// SessionCookie returns the configured cookie name.
func (r *Resolver) SessionCookie() string { return r.cookie }

// InvalidateToken drops a cached token by digest.
func (r *Resolver) InvalidateToken(hash string) {
	if r.cache != nil {
		r.cache.Delete(hash)
	}
}

func unauthenticated() *apperr.Error {
	return apperr.Unauthenticated("authentication required")
}

// Resolve authenticates req. Every credential problem yields the same
// Unauthenticated error; only backing store failures differ.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request, opts Options) (Context, error) {
	span := trace.SpanFromContext(ctx)

	if opts.AllowSession {
		if c, err := req.Cookie(r.cookie); err == nil && c.Value != "" {
			sc, err := r.sessions.Verify(ctx, c.Value)
			switch {
			case err == nil:
				r.record(ctx, "session", "ok")
				span.SetAttributes(attribute.String("auth.kind", "session"))
				return sc, nil
			case !errors.Is(err, ErrInvalidCredential):
				r.record(ctx, "session", "error")
				return nil, errors.Wrap(err, "verify session")
			}
			// An invalid cookie still lets a valid bearer token through.
		}
	}

	if opts.AllowToken {
		if secret, ok := bearer(req); ok {
			tok, err := r.resolveToken(ctx, req, secret)
			switch {
			case err == nil:
				r.record(ctx, "token", "ok")
				span.SetAttributes(
					attribute.String("auth.kind", "token"),
					attribute.String("auth.token_id", tok.ID),
				)
				return &TokenContext{Token: tok}, nil
			case errors.Is(err, ErrInvalidCredential):
				r.record(ctx, "token", "denied")
				return nil, unauthenticated()
			default:
				r.record(ctx, "token", "error")
				return nil, err
			}
		}
	}

	r.record(ctx, "none", "denied")
	return nil, unauthenticated()
}

func (r *Resolver) resolveToken(ctx context.Context, req *http.Request, secret string) (*APIToken, error) {
	if !WellFormedSecret(secret) {
		return nil, ErrInvalidCredential
	}
	hash := HashSecret(r.pepper, secret)

	tok, err := r.lookup(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !digestEqual(tok.Hash, hash) {
		return nil, ErrInvalidCredential
	}

	now := r.now()
	if !tok.Active(now) {
		return nil, ErrInvalidCredential
	}
	if !ipAllowed(tok.AllowedIPs, httpmiddleware.ClientIP(req)) {
		return nil, ErrInvalidCredential
	}
	if !referrerAllowed(tok.AllowedReferrers, req.Referer()) {
		return nil, ErrInvalidCredential
	}

	if _, ok := r.touched.Get(tok.ID); !ok {
		r.touched.Set(tok.ID, struct{}{}, 0)
		if err := r.tokens.TouchLastUsed(ctx, tok.ID, now); err != nil {
			zctx.From(ctx).Warn("Update token last use", zap.String("token_id", tok.ID), zap.Error(err))
		}
	}
	return tok, nil
}

func (r *Resolver) lookup(ctx context.Context, hash string) (*APIToken, error) {
	load := func(ctx context.Context) (*APIToken, error) {
		tok, err := r.tokens.FindByHash(ctx, hash)
		if err != nil {
			if errors.Is(err, ErrInvalidCredential) {
				return nil, ErrInvalidCredential
			}
			return nil, errors.Wrap(err, "find token")
		}
		return tok, nil
	}
	if r.cache == nil {
		return load(ctx)
	}
	return r.cache.GetOrLoad(ctx, hash, load)
}

func (r *Resolver) record(ctx context.Context, kind, outcome string) {
	r.resolved.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

// bearer extracts the token from "Authorization: Bearer <token>".
func bearer(req *http.Request) (string, bool) {
	h := req.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
