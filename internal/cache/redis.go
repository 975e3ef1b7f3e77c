package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/borrowchecker/borrowchecker/internal/logging"
)

const (
	defaultRedisPrefix = "borrowchecker:"
	redisOpTimeout     = 2 * time.Second
	freshSuffix        = ":fresh"
)

// RedisCache stores entries in Redis. Staleness is tracked with a companion
// key that expires at the stale time, so a value without it is stale.
type RedisCache struct {
	client *redis.Client
	prefix string
	log    *logging.Logger
}

// NewRedisCache connects to addr. It returns nil when addr is empty.
func NewRedisCache(addr, password string, db int, prefix string, log *logging.Logger) *RedisCache {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if log == nil {
		log = logging.Nop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCache{
		client: client,
		prefix: prefix,
		log:    log.Component("cache"),
	}
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), redisOpTimeout)
}

// Get retrieves data from Redis. Errors are treated as misses.
func (c *RedisCache) Get(key string) ([]byte, bool, bool) {
	if c == nil || c.client == nil {
		return nil, false, false
	}
	ctx, cancel := opContext()
	defer cancel()

	pipe := c.client.Pipeline()
	value := pipe.Get(ctx, c.prefix+key)
	fresh := pipe.Exists(ctx, c.prefix+key+freshSuffix)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		c.log.Warn().Err(err).Str("key", key).Msg("redis get failed")
		return nil, false, false
	}

	data, err := value.Bytes()
	if err != nil {
		return nil, false, false
	}
	return data, true, fresh.Val() == 0
}

// Set stores data with the given TTL.
func (c *RedisCache) Set(key string, data []byte, ttl time.Duration) {
	c.SetWithStale(key, data, ttl, ttl)
}

// SetWithStale stores data with separate stale and expire times.
func (c *RedisCache) SetWithStale(key string, data []byte, staleAfter, expireAfter time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	ctx, cancel := opContext()
	defer cancel()

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.prefix+key, data, expireAfter)
	pipe.Set(ctx, c.prefix+key+freshSuffix, 1, staleAfter)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("redis set failed")
	}
}

// Invalidate removes an entry.
func (c *RedisCache) Invalidate(key string) {
	if c == nil || c.client == nil {
		return
	}
	ctx, cancel := opContext()
	defer cancel()

	if err := c.client.Del(ctx, c.prefix+key, c.prefix+key+freshSuffix).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("redis delete failed")
	}
}

// InvalidateAll removes every key under the cache prefix.
func (c *RedisCache) InvalidateAll() {
	if c == nil || c.client == nil {
		return
	}
	ctx, cancel := opContext()
	defer cancel()

	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.Warn().Err(err).Msg("redis scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn().Err(err).Msg("redis delete failed")
	}
}

// Stop closes the client.
func (c *RedisCache) Stop() {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Close()
}
