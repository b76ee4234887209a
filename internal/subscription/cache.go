package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"note-queue-service/internal/entity"
)

// Cached keeps plan lookups in Redis for ttl. Cache failures fall through to
// the inner source.
type Cached struct {
	inner  Source
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
	log    zerolog.Logger
}

func NewCached(inner Source, rdb redis.UniversalClient, ttl time.Duration, log zerolog.Logger) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{inner: inner, rdb: rdb, ttl: ttl, prefix: "plan:", log: log}
}

func (c *Cached) PlanFor(ctx context.Context, userID string) (entity.Tier, error) {
	key := c.prefix + userID

	v, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if t, perr := ParseTier(v); perr == nil {
			return t, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Str("user_id", userID).Msg("plan cache read")
	}

	t, err := c.inner.PlanFor(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := c.rdb.Set(ctx, key, string(t), c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("plan cache write")
	}
	return t, nil
}

// Invalidate drops a cached plan, e.g. after a billing change.
func (c *Cached) Invalidate(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, c.prefix+userID).Err()
}
