// Package auth resolves request credentials into an authentication context.
package auth

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/octohub/internal/domain/scope"
	"github.com/xenking/octohub/internal/domain/user"
)

// ErrInvalidCredential is returned by credential lookups for anything that
// must be reported to the client as a plain authentication failure.
var ErrInvalidCredential = errors.New("invalid credential")

// APIToken is a bearer credential. The plaintext secret is never stored.
type APIToken struct {
	ID     string
	Name   string
	Type   scope.TokenType
	UserID *string
	OrgID  *string
	// Prefix is the first characters of the secret, shown in listings.
	Prefix string
	// Hash is the hex HMAC-SHA256 of the secret.
	Hash   string
	Scopes scope.Set

	ExpiresAt *time.Time
	// RateLimit is an optional per-token quota in requests per hour.
	RateLimit        *int
	AllowedIPs       []string
	AllowedReferrers []string

	LastUsedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// Active reports whether the token is neither revoked nor expired at now.
func (t *APIToken) Active(now time.Time) bool {
	if t.DeletedAt != nil {
		return false
	}
	return t.ExpiresAt == nil || now.Before(*t.ExpiresAt)
}

// Session is a browser login.
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Active reports whether the session is unrevoked and unexpired at now.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Context is the resolved identity of a request. It is either a
// *SessionContext or a *TokenContext.
type Context interface {
	// ActorID returns the acting user id, or "" for tokens without a user.
	ActorID() string
	// Kind returns "session" or "token".
	Kind() string
	sealed()
}

// SessionContext authenticates a logged-in user.
type SessionContext struct {
	Session *Session
	User    *user.User
}

func (c *SessionContext) ActorID() string { return c.User.ID }
func (c *SessionContext) Kind() string    { return "session" }
func (*SessionContext) sealed()           {}

// TokenContext authenticates an API token.
type TokenContext struct {
	Token *APIToken
}

func (c *TokenContext) ActorID() string {
	if c.Token.UserID == nil {
		return ""
	}
	return *c.Token.UserID
}
func (c *TokenContext) Kind() string { return "token" }
func (*TokenContext) sealed()        {}

type contextKey struct{}

// ContextWith returns ctx carrying ac.
func ContextWith(ctx context.Context, ac Context) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

// FromContext returns the auth context stored by ContextWith.
func FromContext(ctx context.Context) (Context, bool) {
	ac, ok := ctx.Value(contextKey{}).(Context)
	return ac, ok
}

// Allows reports whether ac may use the required scope. Sessions act with
// the full rights of their user.
func Allows(ac Context, required string) bool {
	switch c := ac.(type) {
	case *SessionContext:
		return true
	case *TokenContext:
		sc, err := scope.Parse(required)
		if err != nil {
			return false
		}
		return c.Token.Scopes.Allows(sc)
	default:
		return false
	}
}
