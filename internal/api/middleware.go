package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/octohub/internal/apperr"
	"github.com/xenking/octohub/internal/domain/audit"
	"github.com/xenking/octohub/internal/domain/auth"
	"github.com/xenking/octohub/internal/ratelimit"
	"github.com/xenking/octohub/pkg/httpmiddleware"
)

// Middleware is a request pipeline stage.
type Middleware = httpmiddleware.Middleware

// Timeout bounds the rest of the pipeline with a deadline. Storage calls
// observe it and are cancelled, and the error boundary answers 504.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticate resolves the caller and stores the auth context.
func (s *Server) Authenticate(opts auth.Options) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := s.authn.Resolve(r.Context(), r, opts)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			ctx := auth.ContextWith(r.Context(), ac)
			noteActor(ctx, ac.ActorID())
			noteDetail(ctx, "authType", ac.Kind())
			if tc, ok := ac.(*auth.TokenContext); ok {
				noteDetail(ctx, "viaTokenId", tc.Token.ID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects callers whose credential does not grant required.
// It must run after Authenticate.
func (s *Server) RequireScope(required string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := auth.FromContext(r.Context())
			if !ok {
				s.fail(w, r, apperr.Unauthenticated("authentication required"))
				return
			}
			if !auth.Allows(ac, required) {
				s.fail(w, r, apperr.Forbidden("insufficient scope").WithDetails(map[string]string{
					"required": required,
				}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
)

// RateLimit counts the request against the most specific configured rule.
// Tokens are limited per token, sessions per user and anonymous callers per
// client IP.
func (s *Server) RateLimit() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := rateLimitRequest(r, s.cfg.RateLimits.Match(r.Method, r.URL.Path))
			res, err := s.limiter.Allow(r.Context(), req)
			if err != nil {
				// Fail closed: while the counter store is unreachable no
				// request is let through unmetered.
				s.limiterErrors.Do(func() {
					zctx.From(r.Context()).Error("Rate limiter unavailable",
						zap.String("rule", req.Rule.Name),
						zap.Error(err),
					)
				})
				WriteError(w, r, apperr.Unavailable("RATE_LIMIT_UNAVAILABLE",
					"rate limiting is temporarily unavailable", err), s.cfg.Development)
				return
			}

			h := w.Header()
			h.Set(headerRateLimitLimit, strconv.Itoa(res.Info.Limit))
			h.Set(headerRateLimitRemaining, strconv.Itoa(res.Info.Remaining))
			h.Set(headerRateLimitReset, strconv.FormatInt(res.Info.Reset.Unix(), 10))

			if !res.Success {
				info := res.Info
				s.fail(w, r, apperr.RateLimited("too many requests", info.RetryAfter).
					WithDetails(EncoderFunc(func(e *jx.Encoder) { encodeRateLimitInfo(e, info) })))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitRequest(r *http.Request, rule ratelimit.Rule) ratelimit.Request {
	req := ratelimit.Request{Rule: rule}
	ac, _ := auth.FromContext(r.Context())
	switch c := ac.(type) {
	case *auth.TokenContext:
		req.Identifier = "token:" + c.Token.ID
		req.Token = true
		if c.Token.RateLimit != nil {
			req.TokenRateLimit = *c.Token.RateLimit
		}
	case *auth.SessionContext:
		req.Identifier = "user:" + c.User.ID
	default:
		ip := clientIP(r)
		if ip == "" {
			ip = "unknown"
		}
		req.Identifier = "ip:" + ip
	}
	return req
}

func clientIP(r *http.Request) string {
	ip := httpmiddleware.ClientIP(r)
	if !ip.IsValid() {
		return ""
	}
	return ip.String()
}

type auditKey struct{}

// auditNote collects what inner stages learn about the actor of an audited
// request.
type auditNote struct {
	mu      sync.Mutex
	actorID string
	details map[string]any
}

func noteActor(ctx context.Context, actorID string) {
	if n, ok := ctx.Value(auditKey{}).(*auditNote); ok && actorID != "" {
		n.mu.Lock()
		n.actorID = actorID
		n.mu.Unlock()
	}
}

func noteDetail(ctx context.Context, key string, v any) {
	if n, ok := ctx.Value(auditKey{}).(*auditNote); ok {
		n.mu.Lock()
		n.details[key] = v
		n.mu.Unlock()
	}
}

// Audited records one audit entry for the request once the rest of the
// pipeline has answered. Responses below 400 count as success. Audit write
// failures never reach the client.
func (s *Server) Audited(action string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			note := &auditNote{details: map[string]any{}}
			ctx := context.WithValue(r.Context(), auditKey{}, note)
			rec := httpmiddleware.NewStatusRecorder(w)

			next.ServeHTTP(rec, r.WithContext(ctx))

			status := audit.StatusSuccess
			if rec.Status >= http.StatusBadRequest {
				status = audit.StatusFailure
			}
			note.mu.Lock()
			entry := audit.Entry{
				Action:    action,
				Status:    status,
				ActorID:   note.actorID,
				ActorIP:   clientIP(r),
				UserAgent: r.UserAgent(),
				Details:   note.details,
			}
			note.mu.Unlock()
			entry.Details["httpStatus"] = rec.Status
			if id := httpmiddleware.RequestIDFromContext(r.Context()); id != "" {
				entry.Details["requestId"] = id
			}
			s.audit.Record(ctx, entry)
		})
	}
}
