// Package cache provides a Redis client wrapper for PitCrew. It backs the
// override-attempt throttle and the per-target incident lease that keeps two
// replicas from remediating the same service at once.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache wraps a Redis client with PitCrew-specific operations.
type Cache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCache dials addr ("host:port") and verifies the server answers PING.
func NewCache(ctx context.Context, addr string, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     4,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: failed to connect to Redis at %s: %w", addr, err)
	}

	c := NewFromClient(client, logger)
	c.logger.Info("connected to redis", zap.String("addr", addr))
	return c, nil
}

// NewFromClient wraps an existing Redis client without pinging it.
func NewFromClient(client *redis.Client, logger *zap.Logger) *Cache {
	return &Cache{client: client, logger: logger.Named("cache")}
}

// Close releases the client's connections.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// attemptLua counts one attempt in the current window. The expiry is set
// only by the first attempt so a burst cannot stretch its own window.
var attemptLua = redis.NewScript(`
	local n = redis.call('INCR', KEYS[1])
	if n == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return n
`)

// RateLimitCheck counts an attempt for key and reports whether it is within
// maxRequests for the fixed window. Windows shorter than a second are
// rounded up to one second.
func (c *Cache) RateLimitCheck(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error) {
	if window < time.Second {
		window = time.Second
	}
	n, err := attemptLua.Run(ctx, c.client, []string{"pitcrew:ratelimit:" + key}, window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("cache: rate limit check: %w", err)
	}
	return n <= maxRequests, nil
}

func leaseKey(target string) string {
	return fmt.Sprintf("pitcrew:incident:%s", target)
}

// AcquireLease claims the incident lease for target on behalf of holder.
// It returns false without error when another holder owns the lease.
func (c *Cache) AcquireLease(ctx context.Context, target, holder string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, leaseKey(target), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: acquire lease %q: %w", target, err)
	}
	return ok, nil
}

// releaseLua deletes the lease only while it is still held by the caller.
var releaseLua = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// ReleaseLease drops the incident lease if holder still owns it.
func (c *Cache) ReleaseLease(ctx context.Context, target, holder string) error {
	if err := releaseLua.Run(ctx, c.client, []string{leaseKey(target)}, holder).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("cache: release lease %q: %w", target, err)
	}
	return nil
}

// LeaseHolder returns the current lease holder for target, or "" if unheld.
func (c *Cache) LeaseHolder(ctx context.Context, target string) (string, error) {
	val, err := c.client.Get(ctx, leaseKey(target)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cache: get lease %q: %w", target, err)
	}
	return val, nil
}
