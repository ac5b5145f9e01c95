// Package token implements the API token lifecycle: issue, update,
// regenerate and revoke.
package token

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/octohub/internal/domain/auth"
	"github.com/xenking/octohub/internal/domain/paging"
)

var (
	// ErrNotFound is returned for unknown, revoked or foreign tokens.
	ErrNotFound = errors.New("token not found")
	// ErrExpiryInPast is returned when an expiry is not in the future.
	ErrExpiryInPast = errors.New("expiry must be in the future")
	// ErrScopeEscalation is returned when a token tries to grant scopes it
	// does not hold itself.
	ErrScopeEscalation = errors.New("cannot grant scopes beyond the caller's own")
	// ErrStrongerToken is returned when a token tries to manage a token
	// holding scopes it does not hold itself.
	ErrStrongerToken = errors.New("cannot manage a token with scopes beyond the caller's own")
	// ErrNoOwner is returned when the caller has no user to own tokens.
	ErrNoOwner = errors.New("caller has no owning user")
	// ErrInvalidType is returned for unknown token types.
	ErrInvalidType = errors.New("invalid token type")
	// ErrInvalidRateLimit is returned for non-positive per-token quotas.
	ErrInvalidRateLimit = errors.New("rate limit must be positive")
)

// InvalidAllowListError reports a malformed allow-list entry.
type InvalidAllowListError struct {
	Field string
	Entry string
}

func (e *InvalidAllowListError) Error() string {
	return "invalid " + e.Field + " entry " + e.Entry
}

// Repository persists tokens. Get and ListByUser never return revoked
// tokens.
type Repository interface {
	Create(ctx context.Context, t *auth.APIToken) error
	Get(ctx context.Context, id string) (*auth.APIToken, error)
	ListByUser(ctx context.Context, userID string, page paging.Page) ([]auth.APIToken, int, error)
	Update(ctx context.Context, t *auth.APIToken) error
	UpdateSecret(ctx context.Context, id, hash, prefix string, at time.Time) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// Invalidator drops cached copies of a token by digest.
type Invalidator interface {
	InvalidateToken(hash string)
}
