package wal

import (
	"context"
	"sync"
)

// MemoryBackend is an in-process append-only WAL with hash chaining.
// It is the default backend for tests and single-node deployments.
type MemoryBackend struct {
	mu        sync.RWMutex
	entries   []Entry
	byID      map[string]int
	sequence  uint64
	chainHead string
	sealer    *Sealer
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithSealer makes the backend sign each entry as it is appended.
func WithSealer(s *Sealer) MemoryOption {
	return func(b *MemoryBackend) { b.sealer = s }
}

// NewMemoryBackend creates an empty in-memory WAL.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	b := &MemoryBackend{
		entries:   make([]Entry, 0),
		byID:      make(map[string]int),
		chainHead: Genesis,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Append validates the entry, links it into the hash chain and stores
// an immutable copy. The sequence, chain and seal fields are written
// back onto e so the caller observes the stored form.
func (b *MemoryBackend) Append(ctx context.Context, e *Entry) error {
	if err := ctx.Err(); err != nil {
		return kernelWriteErr("append cancelled", err)
	}
	if err := e.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// 1. Link into the chain.
	e.Sequence = b.sequence + 1
	e.PrevHash = b.chainHead

	hash, err := ComputeEntryHash(e)
	if err != nil {
		return err
	}
	e.EntryHash = hash

	// 2. Seal if a sealer is configured.
	if b.sealer != nil {
		if err := b.sealer.Seal(e); err != nil {
			return err
		}
	}

	// 3. Commit.
	b.sequence = e.Sequence
	b.chainHead = e.EntryHash
	b.entries = append(b.entries, *e)
	b.byID[e.EntryID] = len(b.entries) - 1
	return nil
}

// List returns copies of all entries in append order.
func (b *MemoryBackend) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, kernelWriteErr("list cancelled", err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out, nil
}

// Get retrieves a stored entry by id.
func (b *MemoryBackend) Get(entryID string) (Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	idx, ok := b.byID[entryID]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return b.entries[idx], nil
}

// Head returns the current chain head hash.
func (b *MemoryBackend) Head() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.chainHead
}

// Size returns the number of stored entries.
func (b *MemoryBackend) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// VerifyChain recomputes every entry hash and checks the chain links.
func (b *MemoryBackend) VerifyChain() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return VerifyEntries(b.entries)
}
