// Package api serves the OctoHub HTTP API.
//
// Every route is a HandlerFunc wrapped by a pipeline of middlewares:
//
//	Audited -> Authenticate -> RequireScope -> RateLimit -> ValidateBody/ValidateQuery -> Timeout -> handler
//
// Each stage may short-circuit with an error envelope. Public routes skip
// the authentication stages and are rate limited by client IP.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xenking/octohub/internal/apperr"
	"github.com/xenking/octohub/internal/domain/audit"
	"github.com/xenking/octohub/internal/domain/auth"
	"github.com/xenking/octohub/internal/domain/session"
	"github.com/xenking/octohub/internal/domain/token"
	"github.com/xenking/octohub/internal/domain/user"
	"github.com/xenking/octohub/internal/ratelimit"
	"github.com/xenking/octohub/pkg/httpmiddleware"
)

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Resolve(ctx context.Context, r *http.Request, opts auth.Options) (auth.Context, error)
}

// Config holds non-dependency server settings.
type Config struct {
	// Development exposes internal error details in responses.
	Development bool
	// SessionCookie is the cookie carrying the session JWT.
	SessionCookie string
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
	RateLimits    ratelimit.Rules
	// Timeout bounds ordinary routes; AuthTimeout bounds routes doing
	// password hashing.
	Timeout     time.Duration
	AuthTimeout time.Duration
}

// Server holds the route handlers and their dependencies.
type Server struct {
	cfg      Config
	users    *user.Service
	sessions *session.Service
	tokens   *token.Service
	audit    *audit.Logger
	authn    Authenticator
	limiter  ratelimit.Checker

	limiterErrors rate.Sometimes
}

// NewServer creates a Server.
func NewServer(
	cfg Config,
	users *user.Service,
	sessions *session.Service,
	tokens *token.Service,
	auditLog *audit.Logger,
	authn Authenticator,
	limiter ratelimit.Checker,
) *Server {
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = auth.DefaultSessionCookie
	}
	return &Server{
		cfg:           cfg,
		users:         users,
		sessions:      sessions,
		tokens:        tokens,
		audit:         auditLog,
		authn:         authn,
		limiter:       limiter,
		limiterErrors: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

var (
	sessionOnly    = auth.Options{AllowSession: true}
	sessionOrToken = auth.Options{AllowSession: true, AllowToken: true}
)

// Handler returns the routes under /api/v1.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "POST /api/v1/auth/register", s.register,
		s.Audited(audit.ActionRegister),
		s.RateLimit(),
		ValidateBody[RegisterBody](s.fail),
		Timeout(s.cfg.AuthTimeout),
	)
	s.route(mux, "POST /api/v1/auth/login", s.login,
		s.Audited(audit.ActionLogin),
		s.RateLimit(),
		ValidateBody[LoginBody](s.fail),
		Timeout(s.cfg.AuthTimeout),
	)
	s.route(mux, "POST /api/v1/auth/logout", s.logout,
		s.Audited(audit.ActionLogout),
		s.Authenticate(sessionOnly),
		s.RateLimit(),
		Timeout(s.cfg.Timeout),
	)
	s.route(mux, "GET /api/v1/me", s.me,
		s.Authenticate(sessionOrToken),
		s.RateLimit(),
	)
	s.route(mux, "GET /api/v1/scopes", s.catalog,
		s.RateLimit(),
	)

	s.route(mux, "GET /api/v1/tokens", s.listTokens,
		s.Authenticate(sessionOrToken),
		s.RequireScope("token:read"),
		s.RateLimit(),
		ValidateQuery[ListQuery](s.fail),
		Timeout(s.cfg.Timeout),
	)
	s.route(mux, "POST /api/v1/tokens", s.createToken,
		s.Audited(audit.ActionTokenCreate),
		s.Authenticate(sessionOrToken),
		s.RequireScope("token:write"),
		s.RateLimit(),
		ValidateBody[CreateTokenBody](s.fail),
		Timeout(s.cfg.Timeout),
	)
	s.route(mux, "GET /api/v1/tokens/{id}", s.getToken,
		s.Authenticate(sessionOrToken),
		s.RequireScope("token:read"),
		s.RateLimit(),
		Timeout(s.cfg.Timeout),
	)
	s.route(mux, "GET /api/v1/tokens/{id}/scopes", s.tokenScopes,
		s.Authenticate(sessionOrToken),
		s.RequireScope("token:read"),
		s.RateLimit(),
		Timeout(s.cfg.Timeout),
	)
	s.route(mux, "PATCH /api/v1/tokens/{id}", s.updateToken,
		s.Audited(audit.ActionTokenUpdate),
		s.Authenticate(sessionOrToken),
		s.RequireScope("token:write"),
		s.RateLimit(),
		ValidateBody[UpdateTokenBody](s.fail),
		Timeout(s.cfg.Timeout),
	)
	s.route(mux, "POST /api/v1/tokens/{id}/regenerate", s.regenerateToken,
		s.Audited(audit.ActionTokenRegenerate),
		s.Authenticate(sessionOrToken),
		s.RequireScope("token:write"),
		s.RateLimit(),
		Timeout(s.cfg.Timeout),
	)
	s.route(mux, "DELETE /api/v1/tokens/{id}", s.revokeToken,
		s.Audited(audit.ActionTokenRevoke),
		s.Authenticate(sessionOrToken),
		s.RequireScope("token:write"),
		s.RateLimit(),
		Timeout(s.cfg.Timeout),
	)

	s.route(mux, "GET /api/v1/audit-logs", s.listAuditLogs,
		s.Authenticate(sessionOrToken),
		s.RequireScope("audit:read"),
		s.RateLimit(),
		ValidateQuery[ListQuery](s.fail),
		Timeout(s.cfg.Timeout),
	)

	mux.Handle("/api/", s.handle(func(http.ResponseWriter, *http.Request) error {
		return apperr.NotFound("route not found")
	}))

	return withStart(mux)
}

// route registers h under pattern behind middlewares, outermost first.
func (s *Server) route(mux *http.ServeMux, pattern string, h HandlerFunc, middlewares ...Middleware) {
	name := pattern
	if _, path, ok := strings.Cut(pattern, " "); ok {
		name = path
	}
	chain := append([]Middleware{httpmiddleware.Route(name)}, middlewares...)
	mux.Handle(pattern, httpmiddleware.Wrap(s.handle(h), chain...))
}
