// Package audit records security-relevant actions in an append-only log.
package audit

import (
	"context"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/xenking/octohub/internal/domain/paging"
)

// Status is the outcome of an audited action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Actions recorded by the API.
const (
	ActionRegister        = "auth.register"
	ActionLogin           = "auth.login"
	ActionLogout          = "auth.logout"
	ActionTokenCreate     = "token.create"
	ActionTokenUpdate     = "token.update"
	ActionTokenRegenerate = "token.regenerate"
	ActionTokenRevoke     = "token.revoke"
)

// Entry is one audit record.
type Entry struct {
	ID        string
	Action    string
	Status    Status
	ActorID   string
	ActorIP   string
	UserAgent string
	Details   map[string]any
	CreatedAt time.Time
}

// Repository stores entries. There is no update or delete.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	ListByActor(ctx context.Context, actorID string, page paging.Page) ([]Entry, int, error)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a time-ordered entry id.
func NewID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}
