package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/octohub/internal/domain/auth"
	"github.com/xenking/octohub/internal/domain/user"
)

type mockSessions struct {
	byID map[string]*auth.Session
	err  error
}

func (m *mockSessions) Create(_ context.Context, s *auth.Session) error {
	if m.err != nil {
		return m.err
	}
	cp := *s
	m.byID[s.ID] = &cp
	return nil
}

func (m *mockSessions) Get(_ context.Context, id string) (*auth.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessions) Revoke(_ context.Context, id string, at time.Time) error {
	if s, ok := m.byID[id]; ok && s.RevokedAt == nil {
		s.RevokedAt = &at
	}
	return nil
}

type mockUsers map[string]*user.User

func (m mockUsers) GetByID(_ context.Context, id string) (*user.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func newTestService() (*Service, *mockSessions) {
	repo := &mockSessions{byID: make(map[string]*auth.Session)}
	users := mockUsers{"u1": {ID: "u1", Email: "a@b.com"}}
	return NewService(repo, users, []byte("secret"), time.Hour), repo
}

func TestStartVerifyEnd(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	raw, sess, err := svc.Start(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserID)

	sc, err := svc.Verify(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, sc.Session.ID)
	assert.Equal(t, "a@b.com", sc.User.Email)

	require.NoError(t, svc.End(ctx, sess.ID))
	_, err = svc.Verify(ctx, raw)
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)
}

func TestVerify_Expired(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	raw, _, err := svc.Start(ctx, "u1")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Verify(ctx, raw)
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)
}

func TestVerify_Rejects(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	raw, sess, err := svc.Start(ctx, "u1")
	require.NoError(t, err)

	other := NewService(repo, mockUsers{}, []byte("other-secret"), time.Hour)
	forged, _, err := other.Start(ctx, "u1")
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, claims{
		SessionID:        sess.ID,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, Subject: "u1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	for name, value := range map[string]string{
		"Garbage":     "not-a-jwt",
		"Empty":       "",
		"WrongSecret": forged,
		"AlgNone":     unsigned,
		"Tampered":    tampered,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Verify(ctx, value)
			assert.ErrorIs(t, err, auth.ErrInvalidCredential)
		})
	}
}

func TestVerify_UnknownSessionOrUser(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	raw, sess, err := svc.Start(ctx, "u1")
	require.NoError(t, err)
	delete(repo.byID, sess.ID)
	_, err = svc.Verify(ctx, raw)
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)

	raw, _, err = svc.Start(ctx, "ghost")
	require.NoError(t, err)
	_, err = svc.Verify(ctx, raw)
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)
}

func TestVerify_StoreError(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	raw, _, err := svc.Start(ctx, "u1")
	require.NoError(t, err)

	repo.err = errors.New("db down")
	_, err = svc.Verify(ctx, raw)
	require.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrInvalidCredential)
}
