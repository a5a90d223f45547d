package claims

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RevocationLookup reports whether a token id has been revoked. An error
// means the answer is unknown; callers must deny, never assume non-revoked.
type RevocationLookup interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// MemoryRevocations is an in-process revocation set.
type MemoryRevocations struct {
	mu      sync.RWMutex
	revoked map[string]struct{}
}

// NewMemoryRevocations creates an empty revocation set.
func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{revoked: make(map[string]struct{})}
}

// Revoke marks a token id as revoked.
func (m *MemoryRevocations) Revoke(tokenID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[tokenID] = struct{}{}
}

// IsRevoked implements RevocationLookup.
func (m *MemoryRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.revoked[tokenID]
	return ok, nil
}

// RedisRevocations checks revocations against a shared Redis set, so all
// kernel instances observe a revocation immediately.
type RedisRevocations struct {
	client *redis.Client
}

// NewRedisRevocations creates a Redis-backed revocation lookup.
func NewRedisRevocations(addr, password string, db int) *RedisRevocations {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisRevocations{client: rdb}
}

// Revoke marks a token id as revoked.
func (r *RedisRevocations) Revoke(ctx context.Context, tokenID string) error {
	if err := r.client.SAdd(ctx, revocationSetKey, tokenID).Err(); err != nil {
		return fmt.Errorf("redis revocation add: %w", err)
	}
	return nil
}

// IsRevoked implements RevocationLookup. A Redis failure surfaces as an
// error so the permission gate denies.
func (r *RedisRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	revoked, err := r.client.SIsMember(ctx, revocationSetKey, tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("redis revocation lookup: %w", err)
	}
	return revoked, nil
}

const revocationSetKey = "gatehouse:revoked_tokens"
