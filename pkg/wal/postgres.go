package wal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
)

// PostgresBackend is a durable SQL-backed WAL. The full entry is stored
// as JSON alongside the chain columns used for ordering and lookups.
type PostgresBackend struct {
	db *sql.DB

	// Sealer, when set, signs entries as they are appended.
	Sealer *Sealer
}

func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

const pgWALSchema = `
CREATE TABLE IF NOT EXISTS wal_entries (
	sequence BIGINT PRIMARY KEY,
	entry_id TEXT UNIQUE NOT NULL,
	tenant_id TEXT NOT NULL,
	correlation_id TEXT NOT NULL,
	boundary TEXT NOT NULL,
	exit_code INT NOT NULL,
	entry_hash TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	entry_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_wal_entries_tenant ON wal_entries (tenant_id);
CREATE INDEX IF NOT EXISTS idx_wal_entries_correlation ON wal_entries (correlation_id);
`

// Init creates the WAL table and indexes if they do not exist.
func (b *PostgresBackend) Init(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, pgWALSchema); err != nil {
		return kernelWriteErr("create wal schema", err)
	}
	return nil
}

const pgWALHead = `SELECT sequence, entry_hash FROM wal_entries ORDER BY sequence DESC LIMIT 1`

const pgWALInsert = `
INSERT INTO wal_entries (sequence, entry_id, tenant_id, correlation_id, boundary, exit_code, entry_hash, prev_hash, created_at, entry_json)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Append links the entry onto the chain tail and inserts it inside a
// transaction so concurrent appends serialize on the head row.
func (b *PostgresBackend) Append(ctx context.Context, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return kernelWriteErr("begin append transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	// 1. Find the chain tail.
	var lastSeq uint64
	var lastHash string
	err = tx.QueryRowContext(ctx, pgWALHead).Scan(&lastSeq, &lastHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return kernelWriteErr("read chain head", err)
	}
	if lastHash == "" {
		lastHash = Genesis
	}

	// 2. Link and hash.
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

	// 3. Persist.
	payload, err := json.Marshal(e)
	if err != nil {
		return kernelerr.Wrap(kernelerr.CodeWALFormat, err, "marshal entry")
	}
	_, err = tx.ExecContext(ctx, pgWALInsert,
		e.Sequence, e.EntryID, e.TenantID, e.CorrelationID, e.Boundary,
		e.ExitCode, e.EntryHash, e.PrevHash, e.Timestamp, string(payload),
	)
	if err != nil {
		return kernelWriteErr("insert entry", err)
	}
	if err := tx.Commit(); err != nil {
		return kernelWriteErr("commit append", err)
	}
	return nil
}

const pgWALList = `SELECT entry_json FROM wal_entries ORDER BY sequence ASC`

// List returns all stored entries in append order.
func (b *PostgresBackend) List(ctx context.Context) ([]Entry, error) {
	rows, err := b.db.QueryContext(ctx, pgWALList)
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
func (b *PostgresBackend) VerifyChain(ctx context.Context) error {
	entries, err := b.List(ctx)
	if err != nil {
		return err
	}
	return VerifyEntries(entries)
}
