package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig captures the connection parameters for the Redis cache store.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
	Timeout  time.Duration
}

const defaultRedisTimeout = 5 * time.Second
const redisKeyPrefix = "questlog:"

// RedisClient implements Store on top of a go-redis client. All keys are
// namespaced under the application prefix so a shared Redis instance stays
// tidy.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis store. It eagerly pings the server so
// that misconfiguration is surfaced during application startup.
func NewRedisClient(cfg RedisConfig) (*RedisClient, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		return nil, errors.New("redis: address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRedisTimeout
	}

	opts := &redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisClient{client: client}, nil
}

// Close closes the underlying connection pool.
func (c *RedisClient) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Ping verifies the server is reachable. Used by the readiness probe.
func (c *RedisClient) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("redis: client not initialised")
	}
	return c.client.Ping(ctx).Err()
}

// IncrementWithTTL atomically increments a counter and applies the window TTL
// on first use. Returns the new count and the remaining window.
func (c *RedisClient) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if c == nil || c.client == nil {
		return 0, 0, errors.New("redis: client not initialised")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if window <= 0 {
		window = time.Minute
	}

	namespaced := redisKeyPrefix + key

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, namespaced)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	count := incr.Val()
	if count == 1 {
		if err := c.client.PExpire(ctx, namespaced, window).Err(); err != nil {
			return 0, 0, err
		}
		return count, window, nil
	}

	ttl, err := c.client.PTTL(ctx, namespaced).Result()
	if err != nil {
		return 0, 0, err
	}
	if ttl < 0 {
		// Counter without expiry (e.g. after a failed PEXPIRE); reset the window.
		if err := c.client.PExpire(ctx, namespaced, window).Err(); err != nil {
			return 0, 0, err
		}
		ttl = window
	}

	return count, ttl, nil
}

// Set stores a value with the supplied TTL. A non-positive TTL persists the key.
func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return errors.New("redis: client not initialised")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ttl < 0 {
		ttl = 0
	}
	return c.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err()
}

// Get retrieves a value by key.
func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, errors.New("redis: client not initialised")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	value, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Delete removes keys from the store.
func (c *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if c == nil || c.client == nil {
		return errors.New("redis: client not initialised")
	}
	if len(keys) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	namespaced := make([]string, len(keys))
	for i, key := range keys {
		namespaced[i] = redisKeyPrefix + key
	}
	return c.client.Del(ctx, namespaced...).Err()
}
