// Package usage tracks cumulative resource consumption and
// first-use idempotency marks for boundary crossings. Both
// operations are atomic check-and-write primitives so concurrent
// crossings cannot slip past a limit or replay a request.
package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrLimitExceeded reports that an increment would push usage past
	// the limit. Usage is left unchanged.
	ErrLimitExceeded = errors.New("usage: limit exceeded")

	// ErrDuplicate reports that an idempotency key was already marked.
	ErrDuplicate = errors.New("usage: duplicate request key")
)

// Tracker records cumulative usage per tenant and resource.
// CheckAndIncrement atomically adds amount unless the result would
// exceed limit; it returns the usage recorded before the call.
type Tracker interface {
	CheckAndIncrement(ctx context.Context, tenant, resource string, amount, limit int64) (before int64, err error)
}

type usageKey struct {
	tenant   string
	resource string
}

// MemoryTracker is an in-process Tracker for tests and single-node use.
type MemoryTracker struct {
	mu    sync.Mutex
	usage map[usageKey]int64
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{usage: make(map[usageKey]int64)}
}

func (t *MemoryTracker) CheckAndIncrement(ctx context.Context, tenant, resource string, amount, limit int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("usage: tracker unavailable: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := usageKey{tenant: tenant, resource: resource}
	current := t.usage[key]
	if current+amount > limit {
		return current, ErrLimitExceeded
	}
	t.usage[key] = current + amount
	return current, nil
}

// Usage reports the recorded consumption for a tenant and resource.
func (t *MemoryTracker) Usage(tenant, resource string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage[usageKey{tenant: tenant, resource: resource}]
}

// redisUsageScript checks and increments a usage counter atomically.
// KEYS[1] = usage key ("gatehouse:usage:<tenant>:<resource>")
// ARGV[1] = amount to add
// ARGV[2] = limit
// Returns {allowed, usage_before}.
var redisUsageScript = redis.NewScript(`
local key = KEYS[1]
local amount = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current + amount > limit then
    return {0, current}
end
redis.call("INCRBY", key, amount)
return {1, current}
`)

// RedisTracker is a Redis-backed Tracker shared across kernel replicas.
type RedisTracker struct {
	client *redis.Client
}

// NewRedisTracker creates a tracker backed by Redis.
func NewRedisTracker(addr string, password string, db int) *RedisTracker {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisTracker{client: rdb}
}

func (t *RedisTracker) CheckAndIncrement(ctx context.Context, tenant, resource string, amount, limit int64) (int64, error) {
	key := fmt.Sprintf("gatehouse:usage:%s:%s", tenant, resource)

	res, err := redisUsageScript.Run(ctx, t.client, []string{key}, amount, limit).Result()
	if err != nil {
		return 0, fmt.Errorf("usage: redis tracker error: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return 0, fmt.Errorf("usage: invalid response from lua script")
	}

	allowed, _ := results[0].(int64)
	before, _ := results[1].(int64)
	if allowed != 1 {
		return before, ErrLimitExceeded
	}
	return before, nil
}

// Close releases the Redis connection.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}
