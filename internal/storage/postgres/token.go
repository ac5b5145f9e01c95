package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/octohub/internal/domain/auth"
	"github.com/xenking/octohub/internal/domain/paging"
	"github.com/xenking/octohub/internal/domain/scope"
	"github.com/xenking/octohub/internal/domain/token"
)

const (
	tokenColumns = `id, name, type, user_id, org_id, prefix, token_hash, scopes, expires_at, rate_limit,
		allowed_ips, allowed_referrers, last_used_at, created_at, updated_at, deleted_at`

	createTokenSQL = `INSERT INTO api_tokens (` + tokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	// Revoked and expired rows are returned on purpose: the resolver rejects
	// them with the same error as unknown digests.
	findTokenByHashSQL = `SELECT ` + tokenColumns + ` FROM api_tokens WHERE token_hash = $1`

	getTokenSQL = `SELECT ` + tokenColumns + ` FROM api_tokens WHERE id = $1 AND deleted_at IS NULL`

	listTokensSQL = `SELECT ` + tokenColumns + `, count(*) OVER ()
		FROM api_tokens WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	countTokensSQL = `SELECT count(*) FROM api_tokens WHERE user_id = $1 AND deleted_at IS NULL`

	updateTokenSQL = `UPDATE api_tokens SET name = $2, type = $3, scopes = $4, expires_at = $5, rate_limit = $6,
		allowed_ips = $7, allowed_referrers = $8, updated_at = $9
		WHERE id = $1 AND deleted_at IS NULL`

	updateTokenSecretSQL = `UPDATE api_tokens SET token_hash = $2, prefix = $3, updated_at = $4
		WHERE id = $1 AND deleted_at IS NULL`

	touchTokenSQL = `UPDATE api_tokens SET last_used_at = $2 WHERE id = $1`

	softDeleteTokenSQL = `UPDATE api_tokens SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`
)

var (
	_ token.Repository = (*TokenRepository)(nil)
	_ auth.TokenLookup = (*TokenRepository)(nil)
)

// TokenRepository implements token.Repository and auth.TokenLookup.
type TokenRepository struct {
	pool *pgxpool.Pool
}

// NewTokenRepository returns a TokenRepository that uses the given pool.
func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

func (r *TokenRepository) Create(ctx context.Context, t *auth.APIToken) error {
	_, err := r.pool.Exec(ctx, createTokenSQL,
		t.ID, t.Name, string(t.Type), t.UserID, t.OrgID, t.Prefix, t.Hash, t.Scopes.Strings(),
		t.ExpiresAt, t.RateLimit, nonNil(t.AllowedIPs), nonNil(t.AllowedReferrers),
		t.LastUsedAt, t.CreatedAt, t.UpdatedAt, t.DeletedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert token")
	}
	return nil
}

// FindByHash implements auth.TokenLookup.
func (r *TokenRepository) FindByHash(ctx context.Context, hash string) (*auth.APIToken, error) {
	rows, err := r.pool.Query(ctx, findTokenByHashSQL, hash)
	if err != nil {
		return nil, errors.Wrap(err, "find token")
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrInvalidCredential
		}
		return nil, errors.Wrap(err, "find token")
	}
	return &t, nil
}

func (r *TokenRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	if _, err := r.pool.Exec(ctx, touchTokenSQL, id, at); err != nil {
		return errors.Wrap(err, "touch token")
	}
	return nil
}

func (r *TokenRepository) Get(ctx context.Context, id string) (*auth.APIToken, error) {
	if uuid.Validate(id) != nil {
		return nil, token.ErrNotFound
	}
	rows, err := r.pool.Query(ctx, getTokenSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get token %q", id)
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, token.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get token %q", id)
	}
	return &t, nil
}

func (r *TokenRepository) ListByUser(ctx context.Context, userID string, page paging.Page) ([]auth.APIToken, int, error) {
	rows, err := r.pool.Query(ctx, listTokensSQL, userID, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, errors.Wrap(err, "list tokens")
	}
	var total int
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (auth.APIToken, error) {
		return scanTokenWith(row, &total)
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "list tokens")
	}
	// Past the last page the window count is unavailable.
	if len(items) == 0 && page.Offset() > 0 {
		if err := r.pool.QueryRow(ctx, countTokensSQL, userID).Scan(&total); err != nil {
			return nil, 0, errors.Wrap(err, "count tokens")
		}
	}
	return items, total, nil
}

func (r *TokenRepository) Update(ctx context.Context, t *auth.APIToken) error {
	tag, err := r.pool.Exec(ctx, updateTokenSQL,
		t.ID, t.Name, string(t.Type), t.Scopes.Strings(), t.ExpiresAt, t.RateLimit,
		nonNil(t.AllowedIPs), nonNil(t.AllowedReferrers), t.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update token %q", t.ID)
	}
	if tag.RowsAffected() == 0 {
		return token.ErrNotFound
	}
	return nil
}

func (r *TokenRepository) UpdateSecret(ctx context.Context, id, hash, prefix string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, updateTokenSecretSQL, id, hash, prefix, at)
	if err != nil {
		return errors.Wrapf(err, "update token secret %q", id)
	}
	if tag.RowsAffected() == 0 {
		return token.ErrNotFound
	}
	return nil
}

func (r *TokenRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, softDeleteTokenSQL, id, at)
	if err != nil {
		return errors.Wrapf(err, "delete token %q", id)
	}
	if tag.RowsAffected() == 0 {
		return token.ErrNotFound
	}
	return nil
}

func scanToken(row pgx.CollectableRow) (auth.APIToken, error) {
	return scanTokenWith(row)
}

func scanTokenWith(row pgx.CollectableRow, extra ...any) (auth.APIToken, error) {
	var (
		t      auth.APIToken
		typ    string
		scopes []string
	)
	dest := append([]any{
		&t.ID, &t.Name, &typ, &t.UserID, &t.OrgID, &t.Prefix, &t.Hash, &scopes, &t.ExpiresAt, &t.RateLimit,
		&t.AllowedIPs, &t.AllowedReferrers, &t.LastUsedAt, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return t, err
	}
	t.Type = scope.TokenType(typ)

	// Rows are written through the token service, so every stored scope
	// parsed once already. Anything else is dropped rather than granted.
	t.Scopes = make(scope.Set, len(scopes))
	for _, raw := range scopes {
		if sc, err := scope.Parse(raw); err == nil {
			t.Scopes[sc] = struct{}{}
		}
	}
	return t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
