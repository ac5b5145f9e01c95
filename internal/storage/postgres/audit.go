package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/octohub/internal/domain/audit"
	"github.com/xenking/octohub/internal/domain/paging"
)

const (
	appendAuditSQL = `INSERT INTO audit_logs (id, action, status, actor_id, actor_ip, user_agent, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	listAuditSQL = `SELECT id, action, status, actor_id, actor_ip, user_agent, details, created_at
		FROM audit_logs WHERE actor_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`

	countAuditSQL = `SELECT count(*) FROM audit_logs WHERE actor_id = $1`
)

var _ audit.Repository = (*AuditRepository)(nil)

// AuditRepository implements audit.Repository. Rows are never updated.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository returns an AuditRepository that uses the given pool.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Append(ctx context.Context, e *audit.Entry) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	_, err := r.pool.Exec(ctx, appendAuditSQL,
		e.ID, e.Action, string(e.Status), e.ActorID, e.ActorIP, e.UserAgent, details, e.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert audit entry")
	}
	return nil
}

func (r *AuditRepository) ListByActor(ctx context.Context, actorID string, page paging.Page) ([]audit.Entry, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, countAuditSQL, actorID).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count audit entries")
	}
	if total == 0 {
		return nil, 0, nil
	}

	rows, err := r.pool.Query(ctx, listAuditSQL, actorID, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, errors.Wrap(err, "list audit entries")
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (audit.Entry, error) {
		var (
			e      audit.Entry
			status string
		)
		err := row.Scan(&e.ID, &e.Action, &status, &e.ActorID, &e.ActorIP, &e.UserAgent, &e.Details, &e.CreatedAt)
		e.Status = audit.Status(status)
		return e, err
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "list audit entries")
	}
	return entries, total, nil
}
