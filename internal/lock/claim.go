package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// ErrClaimed is returned when another caller already holds the claim.
var ErrClaimed = errors.New("lock: already claimed")

// Claimer grants exclusive, non-blocking ownership of a key.
type Claimer interface {
	Claim(ctx context.Context, key string) (release func(), err error)
}

// MemoryClaimer claims keys within a single process.
type MemoryClaimer struct {
	keys *KeyedMutex
}

// NewMemoryClaimer constructs an in-process Claimer.
func NewMemoryClaimer() *MemoryClaimer {
	return &MemoryClaimer{keys: NewKeyedMutex()}
}

// Claim takes key or fails immediately with ErrClaimed.
func (c *MemoryClaimer) Claim(_ context.Context, key string) (func(), error) {
	unlock, ok := c.keys.TryLock(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClaimed, key)
	}
	return unlock, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClaimer claims keys across processes with SET NX and a ttl.
type RedisClaimer struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisClaimer constructs a redis-backed Claimer. Claims expire after ttl if never released.
func NewRedisClaimer(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisClaimer {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisClaimer{
		client:  client,
		logger:  logger,
		prefix:  "servermanager:claim:",
		ttl:     ttl,
		timeout: 2 * time.Second,
	}
}

// Claim sets the key only if absent; release deletes it only while the token still matches.
func (c *RedisClaimer) Claim(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := c.prefix + key
	ok, err := c.client.SetNX(ctx, redisKey, token, c.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClaimed, key)
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, c.client, []string{redisKey}, token).Err(); err != nil {
			c.logger.Error("release claim failed", "key", key, "error", err)
		}
	}, nil
}
