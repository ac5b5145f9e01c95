package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// incrementScript starts the window on the first hit and always returns the
// counter together with the remaining window in milliseconds. A key left
// without a TTL (e.g. after a failover) gets a fresh window.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

var _ Store = (*RedisStore)(nil)

// RedisStore shares counters between instances through Redis.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a RedisStore. Keys are namespaced with prefix.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) counterKey(key string) string { return s.prefix + "count:" + key }
func (s *RedisStore) blockKey(key string) string   { return s.prefix + "block:" + key }

// Increment implements Store.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Record, error) {
	ms := window.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	vals, err := incrementScript.Run(ctx, s.client, []string{s.counterKey(key)}, strconv.FormatInt(ms, 10)).Int64Slice()
	if err != nil {
		return Record{}, errors.Wrap(err, "redis increment")
	}
	if len(vals) != 2 {
		return Record{}, errors.Errorf("redis increment: unexpected reply length %d", len(vals))
	}
	return Record{
		Count: vals[0],
		Reset: s.now().Add(time.Duration(vals[1]) * time.Millisecond),
	}, nil
}

// Block implements Store.
func (s *RedisStore) Block(ctx context.Context, key string, d time.Duration) error {
	if err := s.client.Set(ctx, s.blockKey(key), 1, d).Err(); err != nil {
		return errors.Wrap(err, "redis block")
	}
	return nil
}

// BlockedFor implements Store.
func (s *RedisStore) BlockedFor(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.PTTL(ctx, s.blockKey(key)).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redis block ttl")
	}
	// -2: no key, -1: no expiry (never written by Block).
	if d < 0 {
		return 0, nil
	}
	return d, nil
}
