package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter smooths request bursts per API key. It is deliberately not
// the quota: the quota is the durable budget in the ledger, while this
// only caps requests per minute so one key cannot monopolize the
// classifier.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, defaultRPM int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(defaultRPM)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func (l *Limiter) Allow(ctx context.Context, apiKeyID string) (bool, error) {
	key := fmt.Sprintf("ratelimit:key:%s", apiKeyID)
	res, err := l.store.Allow(ctx, key)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, apiKeyID string) (*extratelimit.Result, error) {
	key := fmt.Sprintf("ratelimit:key:%s", apiKeyID)
	return l.store.Status(ctx, key)
}
