package wal_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/gatehouse/pkg/canonical"
	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
	"github.com/Mindburn-Labs/gatehouse/pkg/wal"
)

func draftEntry() *wal.Entry {
	return &wal.Entry{
		EntryID:       uuid.New().String(),
		Timestamp:     time.Now().UTC(),
		Boundary:      "tool.invoke",
		TenantID:      "tenant-a",
		CorrelationID: uuid.New().String(),
		UserID:        "user-1",
		Roles:         []string{"reader"},
		ExitCode:      wal.ExitOK,
	}
}

func TestEntry_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(e *wal.Entry)
	}{
		{"missing entry id", func(e *wal.Entry) { e.EntryID = "" }},
		{"missing boundary", func(e *wal.Entry) { e.Boundary = "" }},
		{"missing tenant", func(e *wal.Entry) { e.TenantID = "" }},
		{"missing correlation id", func(e *wal.Entry) { e.CorrelationID = "" }},
		{"missing user", func(e *wal.Entry) { e.UserID = "" }},
		{"nil roles", func(e *wal.Entry) { e.Roles = nil }},
		{"zero timestamp", func(e *wal.Entry) { e.Timestamp = time.Time{} }},
		{"negative exit code", func(e *wal.Entry) { e.ExitCode = -1 }},
		{"denial without error code", func(e *wal.Entry) { e.ExitCode = wal.ExitDenied }},
		{"success with error code", func(e *wal.Entry) { e.ErrorCode = string(kernelerr.CodePermissionDenied) }},
		{"signature without key id", func(e *wal.Entry) { e.Signature = "c2ln" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := draftEntry()
			tc.mutate(e)
			err := e.Validate()
			require.Error(t, err)
			assert.True(t, kernelerr.HasCode(err, kernelerr.CodeWALFormat))
		})
	}

	t.Run("valid entry", func(t *testing.T) {
		require.NoError(t, draftEntry().Validate())
	})

	t.Run("valid denial", func(t *testing.T) {
		e := draftEntry()
		e.ExitCode = wal.ExitDenied
		e.ErrorCode = string(kernelerr.CodePermissionDenied)
		require.NoError(t, e.Validate())
	})
}

func TestMemoryBackend_AppendChain(t *testing.T) {
	b := wal.NewMemoryBackend()
	ctx := context.Background()

	first := draftEntry()
	second := draftEntry()
	third := draftEntry()
	require.NoError(t, b.Append(ctx, first))
	require.NoError(t, b.Append(ctx, second))
	require.NoError(t, b.Append(ctx, third))

	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, uint64(3), third.Sequence)

	assert.Equal(t, wal.Genesis, first.PrevHash)
	assert.Equal(t, first.EntryHash, second.PrevHash)
	assert.Equal(t, second.EntryHash, third.PrevHash)
	assert.Equal(t, third.EntryHash, b.Head())

	assert.Equal(t, 3, b.Size())
	require.NoError(t, b.VerifyChain())

	entries, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, first.EntryID, entries[0].EntryID)
	assert.Equal(t, third.EntryID, entries[2].EntryID)
}

func TestMemoryBackend_RejectsInvalidEntry(t *testing.T) {
	b := wal.NewMemoryBackend()
	e := draftEntry()
	e.TenantID = ""

	err := b.Append(context.Background(), e)
	require.Error(t, err)
	assert.True(t, kernelerr.HasCode(err, kernelerr.CodeWALFormat))
	assert.Equal(t, 0, b.Size())
}

func TestMemoryBackend_Get(t *testing.T) {
	b := wal.NewMemoryBackend()
	e := draftEntry()
	require.NoError(t, b.Append(context.Background(), e))

	got, err := b.Get(e.EntryID)
	require.NoError(t, err)
	assert.Equal(t, e.EntryHash, got.EntryHash)

	_, err = b.Get("nope")
	assert.ErrorIs(t, err, wal.ErrEntryNotFound)
}

func TestVerifyEntries_DetectsTampering(t *testing.T) {
	b := wal.NewMemoryBackend()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Append(ctx, draftEntry()))
	}

	entries, err := b.List(ctx)
	require.NoError(t, err)
	require.NoError(t, wal.VerifyEntries(entries))

	t.Run("mutated field breaks hash", func(t *testing.T) {
		tampered := make([]wal.Entry, len(entries))
		copy(tampered, entries)
		tampered[1].UserID = "intruder"
		assert.ErrorIs(t, wal.VerifyEntries(tampered), wal.ErrChainBroken)
	})

	t.Run("removed entry breaks links", func(t *testing.T) {
		tampered := []wal.Entry{entries[0], entries[2]}
		assert.ErrorIs(t, wal.VerifyEntries(tampered), wal.ErrChainBroken)
	})

	t.Run("reordered entries break links", func(t *testing.T) {
		tampered := []wal.Entry{entries[1], entries[0], entries[2]}
		assert.ErrorIs(t, wal.VerifyEntries(tampered), wal.ErrChainBroken)
	})
}

func TestMemoryBackend_Sealed(t *testing.T) {
	sealer := wal.NewSealer(nil)
	b := wal.NewMemoryBackend(wal.WithSealer(sealer))
	ctx := context.Background()

	e := draftEntry()
	require.NoError(t, b.Append(ctx, e))

	assert.NotEmpty(t, e.Signature)
	assert.Equal(t, sealer.KeyID(), e.KeyID)
	require.NoError(t, wal.VerifySeal(sealer.PublicKey(), e))

	// The hash excludes the seal, so the chain still verifies.
	require.NoError(t, b.VerifyChain())

	forged := *e
	forged.Signature = "Zm9yZ2Vk"
	assert.Error(t, wal.VerifySeal(sealer.PublicKey(), &forged))
}

func TestSealer_DeriveForTenant(t *testing.T) {
	master := wal.NewSealer(nil)

	a1, err := master.DeriveForTenant("tenant-a")
	require.NoError(t, err)
	a2, err := master.DeriveForTenant("tenant-a")
	require.NoError(t, err)
	bSealer, err := master.DeriveForTenant("tenant-b")
	require.NoError(t, err)

	assert.Equal(t, a1.KeyID(), a2.KeyID())
	assert.NotEqual(t, a1.KeyID(), bSealer.KeyID())
	assert.NotEqual(t, master.KeyID(), a1.KeyID())

	_, err = master.DeriveForTenant("")
	assert.Error(t, err)
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, wal.ExitOK, wal.ExitCodeFor(nil))
	assert.Equal(t, wal.ExitDenied,
		wal.ExitCodeFor(kernelerr.New(kernelerr.CodePermissionDenied, "no")))
	assert.Equal(t, wal.ExitUnavailable,
		wal.ExitCodeFor(kernelerr.New(kernelerr.CodeTrackerUnavailable, "down")))
	assert.Equal(t, wal.ExitFatal,
		wal.ExitCodeFor(kernelerr.New(kernelerr.CodeInvariantViolation, "broken")))
	assert.Equal(t, wal.ExitFatal, wal.ExitCodeFor(errors.New("untyped")))
}

func TestExportJSONL(t *testing.T) {
	b := wal.NewMemoryBackend()
	ctx := context.Background()

	first := draftEntry()
	second := draftEntry()
	require.NoError(t, b.Append(ctx, first))
	require.NoError(t, b.Append(ctx, second))

	var buf bytes.Buffer
	n, err := wal.ExportJSONL(ctx, b, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var decoded wal.Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, first.EntryID, decoded.EntryID)
	assert.Equal(t, first.EntryHash, decoded.EntryHash)
}

func TestArchiveSegment(t *testing.T) {
	b := wal.NewMemoryBackend()
	ctx := context.Background()
	require.NoError(t, b.Append(ctx, draftEntry()))

	archive := &fakeArchive{}
	hash, count, err := wal.ArchiveSegment(ctx, b, archive)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, strings.HasPrefix(hash, "sha256:"))

	stored, err := archive.Get(ctx, hash)
	require.NoError(t, err)
	assert.Contains(t, string(stored), `"entry_id"`)
}

type fakeArchive struct {
	blobs map[string][]byte
}

func (f *fakeArchive) Store(_ context.Context, data []byte) (string, error) {
	if f.blobs == nil {
		f.blobs = make(map[string][]byte)
	}
	sum := append([]byte(nil), data...)
	key := "sha256:" + canonical.HashBytes(data)
	f.blobs[key] = sum
	return key, nil
}

func (f *fakeArchive) Get(_ context.Context, hash string) ([]byte, error) {
	blob, ok := f.blobs[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return blob, nil
}
