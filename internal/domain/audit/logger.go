package audit

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/octohub/internal/domain/paging"
)

// Logger appends audit entries without ever failing the caller.
type Logger struct {
	repo    Repository
	timeout time.Duration
	now     func() time.Time
}

// NewLogger creates a Logger. Each write gets at most timeout.
func NewLogger(repo Repository, timeout time.Duration) *Logger {
	return &Logger{repo: repo, timeout: timeout, now: time.Now}
}

// Record stores e, filling ID and CreatedAt. It waits for the write, but the
// write runs on a context detached from the request so a cancelled or timed
// out request is still audited. Failures are logged and dropped.
func (l *Logger) Record(ctx context.Context, e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	if e.ID == "" {
		e.ID = NewID(e.CreatedAt)
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	if err := l.repo.Append(wctx, &e); err != nil {
		zctx.From(ctx).Error("Audit write failed",
			zap.String("action", e.Action),
			zap.String("status", string(e.Status)),
			zap.String("actor_id", e.ActorID),
			zap.Error(err),
		)
	}
}

// List returns the actor's entries, newest first.
func (l *Logger) List(ctx context.Context, actorID string, page paging.Page) ([]Entry, int, error) {
	return l.repo.ListByActor(ctx, actorID, page.Normalize())
}
