package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xenking/octohub/internal/domain/audit"
	"github.com/xenking/octohub/internal/domain/auth"
	"github.com/xenking/octohub/internal/domain/paging"
	"github.com/xenking/octohub/internal/domain/session"
	"github.com/xenking/octohub/internal/domain/token"
	"github.com/xenking/octohub/internal/domain/user"
	"github.com/xenking/octohub/internal/ratelimit"
)

// --- In-memory repositories ---

type memUsers struct {
	mu      sync.Mutex
	byID    map[string]*user.User
	byEmail map[string]*user.User
	// block makes Create wait for the context, like a stuck database.
	block bool
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]*user.User{}, byEmail: map[string]*user.User{}}
}

func (m *memUsers) Create(ctx context.Context, u *user.User) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return user.ErrEmailTaken
	}
	cp := *u
	m.byID[u.ID] = &cp
	m.byEmail[u.Email] = &cp
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byEmail[email]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type memSessions struct {
	mu   sync.Mutex
	byID map[string]*auth.Session
}

func (m *memSessions) Create(_ context.Context, s *auth.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.byID[s.ID] = &cp
	return nil
}

func (m *memSessions) Get(_ context.Context, id string) (*auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) Revoke(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byID[id]; ok && s.RevokedAt == nil {
		s.RevokedAt = &at
	}
	return nil
}

type memTokens struct {
	mu   sync.Mutex
	byID map[string]*auth.APIToken
}

func (m *memTokens) Create(_ context.Context, t *auth.APIToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.byID[t.ID] = &cp
	return nil
}

func (m *memTokens) live(id string) (*auth.APIToken, bool) {
	t, ok := m.byID[id]
	if !ok || t.DeletedAt != nil {
		return nil, false
	}
	return t, true
}

func (m *memTokens) Get(_ context.Context, id string) (*auth.APIToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.live(id)
	if !ok {
		return nil, token.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTokens) ListByUser(_ context.Context, userID string, page paging.Page) ([]auth.APIToken, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []auth.APIToken
	for _, t := range m.byID {
		if t.DeletedAt == nil && t.UserID != nil && *t.UserID == userID {
			all = append(all, *t)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	start := min(page.Offset(), total)
	end := min(start+page.PerPage, total)
	return all[start:end], total, nil
}

func (m *memTokens) Update(_ context.Context, t *auth.APIToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(t.ID); !ok {
		return token.ErrNotFound
	}
	cp := *t
	m.byID[t.ID] = &cp
	return nil
}

func (m *memTokens) UpdateSecret(_ context.Context, id, hash, prefix string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.live(id)
	if !ok {
		return token.ErrNotFound
	}
	t.Hash, t.Prefix, t.UpdatedAt = hash, prefix, at
	return nil
}

func (m *memTokens) SoftDelete(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.live(id)
	if !ok {
		return token.ErrNotFound
	}
	t.DeletedAt = &at
	return nil
}

func (m *memTokens) FindByHash(_ context.Context, hash string) (*auth.APIToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byID {
		if t.Hash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, auth.ErrInvalidCredential
}

func (m *memTokens) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.byID[id]; ok {
		t.LastUsedAt = &at
	}
	return nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memAudit) Append(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memAudit) ListByActor(_ context.Context, actorID string, page paging.Page) ([]audit.Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].ActorID == actorID {
			out = append(out, m.entries[i])
		}
	}
	total := len(out)
	start := min(page.Offset(), total)
	end := min(start+page.PerPage, total)
	return out[start:end], total, nil
}

func (m *memAudit) Entries() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...)
}

type failingChecker struct{ err error }

func (c failingChecker) Allow(context.Context, ratelimit.Request) (ratelimit.Result, error) {
	return ratelimit.Result{}, c.err
}
