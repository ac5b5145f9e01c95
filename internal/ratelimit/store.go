package ratelimit

import (
	"context"
	"time"
)

// Record is the counter state of one key after an increment.
type Record struct {
	Count int64
	// Reset is when the current window ends.
	Reset time.Time
}

// Store persists fixed window counters. Implementations must make Increment
// atomic per key: concurrent callers never lose updates.
type Store interface {
	// Increment starts a new window of the given length when the key has no
	// live window, then adds one to the counter.
	Increment(ctx context.Context, key string, window time.Duration) (Record, error)
	// Block marks key as blocked for d.
	Block(ctx context.Context, key string, d time.Duration) error
	// BlockedFor returns the remaining block duration, or zero.
	BlockedFor(ctx context.Context, key string) (time.Duration, error)
}
