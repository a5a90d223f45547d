package wal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
)

// SQLiteBackend is a file-backed WAL for single-node deployments. It
// uses the pure-Go sqlite driver so no cgo is required.
type SQLiteBackend struct {
	db *sql.DB
	mu sync.Mutex

	// Sealer, when set, signs entries as they are appended.
	Sealer *Sealer
}

// NewSQLiteBackend opens (or creates) the database at path and runs
// migrations. Use ":memory:" for an ephemeral store.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, kernelWriteErr("open sqlite database", err)
	}
	b := &SQLiteBackend{db: db}
	if err := b.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS wal_entries (
		sequence INTEGER PRIMARY KEY,
		entry_id TEXT UNIQUE NOT NULL,
		tenant_id TEXT NOT NULL,
		correlation_id TEXT NOT NULL,
		boundary TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		entry_hash TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		created_at TEXT NOT NULL,
		entry_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_wal_entries_tenant ON wal_entries (tenant_id);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return kernelWriteErr("migrate wal schema", err)
	}
	return nil
}

// Append links the entry onto the chain tail and inserts it. A mutex
// serializes the head read and the insert; sqlite has a single writer
// anyway.
func (b *SQLiteBackend) Append(ctx context.Context, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var lastSeq uint64
	var lastHash string
	err := b.db.QueryRowContext(ctx,
		`SELECT sequence, entry_hash FROM wal_entries ORDER BY sequence DESC LIMIT 1`,
	).Scan(&lastSeq, &lastHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return kernelWriteErr("read chain head", err)
	}
	if lastHash == "" {
		lastHash = Genesis
	}

	e.Sequence = lastSeq + 1
	e.PrevHash = lastHash
	hash, err := ComputeEntryHash(e)
	if err != nil {
		return err
	}
	e.EntryHash = hash

	if b.Sealer != nil {
		if err := b.Sealer.Seal(e); err != nil {
			return kernelWriteErr("seal entry", err)
		}
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return kernelerr.Wrap(kernelerr.CodeWALFormat, err, "marshal entry")
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO wal_entries (sequence, entry_id, tenant_id, correlation_id, boundary, exit_code, entry_hash, prev_hash, created_at, entry_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Sequence, e.EntryID, e.TenantID, e.CorrelationID, e.Boundary,
		e.ExitCode, e.EntryHash, e.PrevHash, e.Timestamp.UTC().Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return kernelWriteErr("insert entry", err)
	}
	return nil
}

// List returns all stored entries in append order.
func (b *SQLiteBackend) List(ctx context.Context) ([]Entry, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT entry_json FROM wal_entries ORDER BY sequence ASC`)
	if err != nil {
		return nil, kernelWriteErr("query entries", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]Entry, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, kernelWriteErr("scan entry row", err)
		}
		var e Entry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, kernelerr.Wrap(kernelerr.CodeWALFormat, err, "decode stored entry")
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, kernelWriteErr("iterate entry rows", err)
	}
	return result, nil
}

// VerifyChain re-reads the full log and checks chain integrity.
func (b *SQLiteBackend) VerifyChain(ctx context.Context) error {
	entries, err := b.List(ctx)
	if err != nil {
		return err
	}
	return VerifyEntries(entries)
}

// Close closes the underlying database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
