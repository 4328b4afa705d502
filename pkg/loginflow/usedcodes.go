package loginflow

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// UsedCodeCache remembers which TOTP time steps an account has already
// logged in with, so an observed code cannot be replayed inside its window.
type UsedCodeCache interface {
	// MarkUsed records (accountID, step) and reports whether this was the first use.
	MarkUsed(ctx context.Context, accountID uuid.UUID, step int64, ttl time.Duration) (bool, error)
}

type usedKey struct {
	account uuid.UUID
	step    int64
}

type InMemoryUsedCodeCache struct {
	mu   sync.Mutex
	used map[usedKey]time.Time
	now  func() time.Time
}

func NewInMemoryUsedCodeCache() *InMemoryUsedCodeCache {
	return &InMemoryUsedCodeCache{used: make(map[usedKey]time.Time), now: time.Now}
}

func (c *InMemoryUsedCodeCache) MarkUsed(ctx context.Context, accountID uuid.UUID, step int64, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, exp := range c.used {
		if !now.Before(exp) {
			delete(c.used, k)
		}
	}
	key := usedKey{account: accountID, step: step}
	if _, seen := c.used[key]; seen {
		return false, nil
	}
	c.used[key] = now.Add(ttl)
	return true, nil
}

const usedCodeKeyPrefix = "twofa:totp-used:"

// RedisUsedCodeCache relies on SET NX so concurrent logins agree on one winner
type RedisUsedCodeCache struct {
	rdb redis.UniversalClient
}

func NewRedisUsedCodeCache(rdb redis.UniversalClient) *RedisUsedCodeCache {
	return &RedisUsedCodeCache{rdb: rdb}
}

func (c *RedisUsedCodeCache) MarkUsed(ctx context.Context, accountID uuid.UUID, step int64, ttl time.Duration) (bool, error) {
	key := usedCodeKeyPrefix + accountID.String() + ":" + strconv.FormatInt(step, 10)
	ok, err := c.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record used totp step: %w", err)
	}
	return ok, nil
}
