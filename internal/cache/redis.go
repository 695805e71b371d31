package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// BlockKeyPrefix namespaces mirrored blocks; the ip follows the prefix.
const BlockKeyPrefix = "mg:block:"

const opTimeout = 2 * time.Second

type Client interface {
	IncrWithTTL(key string, ttl time.Duration) (int64, error)
	MirrorBlock(ctx context.Context, ip string, ttl time.Duration) error
	ClearBlock(ctx context.Context, ip string) error
	SubscribeExpired() (*redis.PubSub, error)
	Close() error
}

type RedisCache struct {
	rdb *redis.Client
}

func NewRedisClient(redisURL string) (*RedisCache, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisCache(rdb), nil
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

// IncrWithTTL increments key and starts its expiry on the first hit.
func (c *RedisCache) IncrWithTTL(key string, ttl time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// MirrorBlock records ip as blocked. A zero ttl keeps the key until
// ClearBlock.
func (c *RedisCache) MirrorBlock(ctx context.Context, ip string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.rdb.Set(ctx, BlockKeyPrefix+ip, time.Now().UTC().Unix(), ttl).Err()
}

func (c *RedisCache) ClearBlock(ctx context.Context, ip string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.rdb.Del(ctx, BlockKeyPrefix+ip).Err()
}

// BlockedIPFromKey returns the ip for a mirrored block key.
func BlockedIPFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, BlockKeyPrefix) {
		return "", false
	}
	ip := strings.TrimPrefix(key, BlockKeyPrefix)
	return ip, ip != ""
}

// SubscribeExpired listens for keyspace expiry notifications. The server
// must have notify-keyspace-events including "Ex".
func (c *RedisCache) SubscribeExpired() (*redis.PubSub, error) {
	channel := fmt.Sprintf("__keyevent@%d__:expired", c.rdb.Options().DB)
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	pubsub := c.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	return pubsub, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
