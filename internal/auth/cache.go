package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tdmanh/toxgate/internal/keystore"
)

const cacheTTL = 5 * time.Minute

// Cache is a redis read-through cache for authenticated keys, keyed by
// the sha256 of the token so raw credentials never land in redis. A nil
// Cache (or one built from a nil client) is a no-op, which keeps the
// middleware testable without redis.
type Cache struct {
	rdb *redis.Client
}

func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("auth:%s", hex.EncodeToString(sum[:]))
}

func (c *Cache) Get(ctx context.Context, token string) (*keystore.APIKey, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}

	var k keystore.APIKey
	err := c.rdb.Get(ctx, cacheKey(token)).Scan(&k)
	if err != nil {
		if err != redis.Nil {
			log.Printf("auth: redis error: %v", err)
		}
		return nil, false
	}
	return &k, true
}

func (c *Cache) Put(ctx context.Context, token string, k *keystore.APIKey) {
	if c == nil || c.rdb == nil {
		return
	}
	_ = c.rdb.Set(ctx, cacheKey(token), k, cacheTTL).Err()
}

// Invalidate drops the cached entry for a token. Revocation calls this
// before returning so the next authenticate sees the store, not a stale
// active entry.
func (c *Cache) Invalidate(ctx context.Context, token string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, cacheKey(token)).Err()
}
