package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"studypal_go_backend/internal/plans"
)

// RedisStore tracks anonymous devices. Each device gets one counter key per
// day; embedding the date in the key makes day rollover implicit and the TTL
// garbage-collects stale days.
type RedisStore struct {
	client    goredis.Cmdable
	log       zerolog.Logger
	keyPrefix string
	now       func() time.Time
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the Redis key prefix (default "studypal:usage:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.keyPrefix = prefix }
}

// WithRedisClock overrides the store's clock for tests.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) { s.now = now }
}

func NewRedisStore(client goredis.Cmdable, log zerolog.Logger, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		log:       log,
		keyPrefix: "studypal:usage:",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(id Identity, date string) string {
	return s.keyPrefix + id.Key() + ":" + date
}

// recordScript atomically increments the day's counter unless it has reached
// the limit.
// KEYS[1] = counter key (date-scoped)
// ARGV[1] = limit
// ARGV[2] = ttl seconds
// Returns the new count, or -1 if the limit was already reached.
var recordScript = goredis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count >= tonumber(ARGV[1]) then
    return -1
end
count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("EXPIRE", KEYS[1], tonumber(ARGV[2]))
end
return count
`)

func (s *RedisStore) GetUsage(ctx context.Context, id Identity, plan plans.Plan) (Usage, error) {
	date := DateKey(s.now())

	count, err := s.client.Get(ctx, s.key(id, date)).Int()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			// Fail open on reads.
			s.log.Warn().Err(err).Str("identity", id.Key()).
				Msg("usage read failed, treating as zero usage")
		}
		return usageFor(0, plan, date), nil
	}

	return usageFor(count, plan, date), nil
}

func (s *RedisStore) RecordQuestion(ctx context.Context, id Identity, plan plans.Plan) (Usage, error) {
	date := DateKey(s.now())
	limit := plans.QuotaFor(plan)

	// Two days is enough for the key to outlive any timezone skew.
	const ttl = 48 * time.Hour

	count, err := recordScript.Run(ctx, s.client,
		[]string{s.key(id, date)}, limit, int(ttl.Seconds())).Int()
	if err != nil {
		s.log.Error().Err(err).Str("identity", id.Key()).Msg("failed to record question")
		return Usage{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if count < 0 {
		return usageFor(limit, plan, date), ErrLimitExceeded
	}

	return usageFor(count, plan, date), nil
}
