package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/octohub/internal/domain/auth"
	"github.com/xenking/octohub/internal/domain/session"
)

const (
	createSessionSQL = `INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`
	getSessionSQL    = `SELECT id, user_id, expires_at, revoked_at, created_at FROM sessions WHERE id = $1`
	revokeSessionSQL = `UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`
)

var _ session.Repository = (*SessionRepository)(nil)

// SessionRepository implements session.Repository.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository returns a SessionRepository that uses the given pool.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, s *auth.Session) error {
	if _, err := r.pool.Exec(ctx, createSessionSQL, s.ID, s.UserID, s.ExpiresAt, s.CreatedAt); err != nil {
		return errors.Wrap(err, "insert session")
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*auth.Session, error) {
	var s auth.Session
	err := r.pool.QueryRow(ctx, getSessionSQL, id).Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.RevokedAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, errors.Wrap(err, "get session")
	}
	return &s, nil
}

func (r *SessionRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	if _, err := r.pool.Exec(ctx, revokeSessionSQL, id, at); err != nil {
		return errors.Wrap(err, "revoke session")
	}
	return nil
}
