package usage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MarkStore records idempotency keys on first use. CheckAndMark
// returns nil the first time a key is seen and ErrDuplicate on every
// later call within the retention window.
type MarkStore interface {
	CheckAndMark(ctx context.Context, key string) error
}

// MemoryMarks is an in-process MarkStore with TTL-based expiry.
type MemoryMarks struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	ttl   time.Duration
	clock func() time.Time
}

// NewMemoryMarks creates an in-memory mark store. A zero ttl means
// marks never expire.
func NewMemoryMarks(ttl time.Duration) *MemoryMarks {
	m := &MemoryMarks{
		seen:  make(map[string]time.Time),
		ttl:   ttl,
		clock: time.Now,
	}
	if ttl > 0 {
		go m.cleanup()
	}
	return m
}

func (m *MemoryMarks) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		m.mu.Lock()
		now := m.clock()
		for k, markedAt := range m.seen {
			if now.Sub(markedAt) > m.ttl {
				delete(m.seen, k)
			}
		}
		m.mu.Unlock()
	}
}

func (m *MemoryMarks) CheckAndMark(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("usage: mark store unavailable: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if markedAt, ok := m.seen[key]; ok {
		if m.ttl == 0 || now.Sub(markedAt) <= m.ttl {
			return ErrDuplicate
		}
	}
	m.seen[key] = now
	return nil
}

const redisMarkPrefix = "gatehouse:marks:"

// RedisMarks is a Redis-backed MarkStore shared across kernel replicas.
// SET NX gives the atomic first-writer-wins semantics.
type RedisMarks struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMarks creates a mark store backed by Redis.
func NewRedisMarks(addr string, password string, db int, ttl time.Duration) *RedisMarks {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisMarks{client: rdb, ttl: ttl}
}

func (m *RedisMarks) CheckAndMark(ctx context.Context, key string) error {
	ok, err := m.client.SetNX(ctx, redisMarkPrefix+key, "1", m.ttl).Result()
	if err != nil {
		return fmt.Errorf("usage: redis mark error: %w", err)
	}
	if !ok {
		return ErrDuplicate
	}
	return nil
}

// Close releases the Redis connection.
func (m *RedisMarks) Close() error {
	return m.client.Close()
}

// PostgresMarks is a durable MarkStore that survives process restarts.
type PostgresMarks struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgresMarks creates a mark store backed by PostgreSQL.
func NewPostgresMarks(db *sql.DB, ttl time.Duration) *PostgresMarks {
	return &PostgresMarks{db: db, ttl: ttl}
}

const pgMarksSchema = `
CREATE TABLE IF NOT EXISTS idempotency_marks (
	key TEXT PRIMARY KEY,
	marked_at TIMESTAMP NOT NULL
);`

// Init creates the marks table if it does not exist.
func (m *PostgresMarks) Init(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, pgMarksSchema); err != nil {
		return fmt.Errorf("usage: create marks schema: %w", err)
	}
	return nil
}

const pgMarksInsert = `INSERT INTO idempotency_marks (key, marked_at) VALUES ($1, NOW()) ON CONFLICT (key) DO NOTHING`

func (m *PostgresMarks) CheckAndMark(ctx context.Context, key string) error {
	res, err := m.db.ExecContext(ctx, pgMarksInsert, key)
	if err != nil {
		return fmt.Errorf("usage: postgres mark error: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("usage: postgres mark result: %w", err)
	}
	if rows == 0 {
		return ErrDuplicate
	}
	return nil
}

// Cleanup removes marks older than the retention window.
func (m *PostgresMarks) Cleanup(ctx context.Context) error {
	if m.ttl <= 0 {
		return nil
	}
	_, err := m.db.ExecContext(ctx,
		`DELETE FROM idempotency_marks WHERE marked_at < $1`,
		time.Now().Add(-m.ttl),
	)
	return err
}
