// Package session manages browser login sessions carried in a signed cookie.
package session

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/xenking/octohub/internal/domain/auth"
	"github.com/xenking/octohub/internal/domain/user"
)

const issuer = "octohub"

// ErrNotFound is returned when a session row does not exist.
var ErrNotFound = errors.New("session not found")

// Repository persists sessions.
type Repository interface {
	Create(ctx context.Context, s *auth.Session) error
	Get(ctx context.Context, id string) (*auth.Session, error)
	// Revoke marks the session revoked. Revoking twice is not an error.
	Revoke(ctx context.Context, id string, at time.Time) error
}

// UserLookup loads the session owner.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
}

type claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

var _ auth.SessionVerifier = (*Service)(nil)

// Service starts, verifies and ends sessions.
type Service struct {
	sessions Repository
	users    UserLookup
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

// NewService creates a Service signing cookies with secret.
func NewService(sessions Repository, users UserLookup, secret []byte, ttl time.Duration) *Service {
	return &Service{
		sessions: sessions,
		users:    users,
		secret:   secret,
		ttl:      ttl,
		now:      time.Now,
	}
}

// TTL returns the session lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Start persists a new session for userID and returns the signed cookie value.
func (s *Service) Start(ctx context.Context, userID string) (string, *auth.Session, error) {
	now := s.now().UTC()
	sess := &auth.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return "", nil, errors.Wrap(err, "create session")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		SessionID: sess.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, errors.Wrap(err, "sign session")
	}
	return signed, sess, nil
}

// Verify implements auth.SessionVerifier.
func (s *Service) Verify(ctx context.Context, raw string) (*auth.SessionContext, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || c.SessionID == "" || c.Subject == "" {
		return nil, auth.ErrInvalidCredential
	}

	sess, err := s.sessions.Get(ctx, c.SessionID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, auth.ErrInvalidCredential
	case err != nil:
		return nil, errors.Wrap(err, "get session")
	}
	if sess.UserID != c.Subject || !sess.Active(s.now()) {
		return nil, auth.ErrInvalidCredential
	}

	u, err := s.users.GetByID(ctx, sess.UserID)
	switch {
	case errors.Is(err, user.ErrNotFound):
		return nil, auth.ErrInvalidCredential
	case err != nil:
		return nil, errors.Wrap(err, "get user")
	}
	return &auth.SessionContext{Session: sess, User: u}, nil
}

// End revokes a session.
func (s *Service) End(ctx context.Context, sessionID string) error {
	if err := s.sessions.Revoke(ctx, sessionID, s.now().UTC()); err != nil {
		return errors.Wrap(err, "revoke session")
	}
	return nil
}
