package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementBelowScript increments KEYS[1] only while it is below ARGV[1].
// The expiry (ARGV[2], milliseconds) is applied when the key is created.
// Returns {count, admitted}.
var incrementBelowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local max = tonumber(ARGV[1])
if current >= max then
	return {current, 0}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {current, 1}
`)

// Cache is the Redis-backed counter store shared by every server instance.
type Cache struct {
	client *redis.Client
}

func New(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &Cache{client: client}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Get returns the counter stored at key. The second value is false when the key
// does not exist or has expired.
func (c *Cache) Get(ctx context.Context, key string) (int64, bool, error) {
	raw, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("counter %s is not an integer: %w", key, err)
	}
	return n, true, nil
}

// Put stores value at key with the given time-to-live.
func (c *Cache) Put(ctx context.Context, key string, value int64, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// IncrementIfBelow atomically increments key when its value is below max.
// A rejected call leaves the counter untouched.
func (c *Cache) IncrementIfBelow(ctx context.Context, key string, max int64, ttl time.Duration) (int64, bool, error) {
	res, err := incrementBelowScript.Run(ctx, c.client, []string{key}, max, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, err
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("unexpected script result: %v", res)
	}
	return res[0], res[1] == 1, nil
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// Ping checks if the connection is alive
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
