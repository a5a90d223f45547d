package evidence_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/gatehouse/pkg/verify/evidence"
)

func boolp(b bool) *bool      { return &b }
func i64p(v int64) *int64     { return &v }
func f64p(v float64) *float64 { return &v }
func strp(s string) *string   { return &s }

// allowRecord is a fully healthy successful crossing record.
func allowRecord(id, corr, tenant string) evidence.Record {
	return evidence.Record{
		EntryID:         id,
		Sequence:        1,
		Timestamp:       "2025-06-01T12:00:00.123456789Z",
		Boundary:        "orders.create",
		TenantID:        tenant,
		CorrelationID:   corr,
		UserID:          "u1",
		Roles:           []string{"writer"},
		SchemaValid:     boolp(true),
		Authorized:      boolp(true),
		BudgetLimit:     i64p(100),
		UsageBefore:     i64p(10),
		RequestedAmount: i64p(5),
		IdempotencyKey:  strp(strings.Repeat("ab", 32)),
		ConfidenceScore: f64p(0.9),
		EvalPassed:      boolp(true),
		ExitCode:        0,
	}
}

// denialRecord is a legitimate permission denial: flag false, exit code
// non-zero. It must never be flagged.
func denialRecord(id, corr, tenant string) evidence.Record {
	r := allowRecord(id, corr, tenant)
	r.Authorized = boolp(false)
	r.ExitCode = 1
	r.ErrorCode = "GATEHOUSE/KERNEL/AUTH/PERMISSION_DENIED"
	return r
}

func TestCheck_HealthyBatchIsClean(t *testing.T) {
	batch := []evidence.Record{
		allowRecord("e-1", "corr-1", "tenant-a"),
		denialRecord("e-2", "corr-2", "tenant-a"),
		allowRecord("e-3", "corr-3", "tenant-b"),
	}
	assert.Empty(t, evidence.Check(batch))
	assert.NoError(t, evidence.CheckStrict(batch))
}

func TestCheck_LegitimateDenialIsNotFlagged(t *testing.T) {
	for _, r := range []evidence.Record{
		func() evidence.Record {
			r := denialRecord("e-1", "corr-1", "tenant-a")
			r.SchemaValid = boolp(false)
			r.ErrorCode = "GATEHOUSE/KERNEL/SCHEMA/PAYLOAD_VALIDATION"
			return r
		}(),
		func() evidence.Record {
			r := denialRecord("e-2", "corr-2", "tenant-a")
			r.EvalPassed = boolp(false)
			r.ErrorCode = "GATEHOUSE/KERNEL/EVAL/GATE_FAILURE"
			return r
		}(),
	} {
		assert.Empty(t, evidence.Check([]evidence.Record{r}), "record %s", r.EntryID)
	}
}

// TestCheck_CorruptionCatalogue injects each corruption type into an
// otherwise healthy batch and requires the matching invariant to be
// named. One corrupted record must always be caught.
func TestCheck_CorruptionCatalogue(t *testing.T) {
	cases := []struct {
		name      string
		corrupt   func(batch []evidence.Record) []evidence.Record
		invariant string
	}{
		{
			name: "schema flag false on success",
			corrupt: func(b []evidence.Record) []evidence.Record {
				b[0].SchemaValid = boolp(false)
				return b
			},
			invariant: evidence.InvariantSchemaFlag,
		},
		{
			name: "authorization flag false on success",
			corrupt: func(b []evidence.Record) []evidence.Record {
				b[0].Authorized = boolp(false)
				return b
			},
			invariant: evidence.InvariantAuthFlag,
		},
		{
			name: "bounds arithmetic exceeds limit on success",
			corrupt: func(b []evidence.Record) []evidence.Record {
				b[0].BudgetLimit = i64p(100)
				b[0].UsageBefore = i64p(80)
				b[0].RequestedAmount = i64p(30)
				return b
			},
			invariant: evidence.InvariantBoundsArithmetic,
		},
		{
			name: "human approval refused on success",
			corrupt: func(b []evidence.Record) []evidence.Record {
				b[0].HumanApproved = boolp(false)
				return b
			},
			invariant: evidence.InvariantApprovalFlag,
		},
		{
			name: "eval flag false on success",
			corrupt: func(b []evidence.Record) []evidence.Record {
				b[0].EvalPassed = boolp(false)
				return b
			},
			invariant: evidence.InvariantEvalFlag,
		},
		{
			name: "correlation id reused across tenants",
			corrupt: func(b []evidence.Record) []evidence.Record {
				return append(b, allowRecord("e-2", b[0].CorrelationID, "tenant-b"))
			},
			invariant: evidence.InvariantCorrelationTenant,
		},
		{
			name: "entry id repeats",
			corrupt: func(b []evidence.Record) []evidence.Record {
				return append(b, allowRecord(b[0].EntryID, "corr-9", "tenant-a"))
			},
			invariant: evidence.InvariantDuplicateEntryID,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			batch := tc.corrupt([]evidence.Record{allowRecord("e-1", "corr-1", "tenant-a")})

			violations := evidence.Check(batch)
			require.NotEmpty(t, violations, "corruption must never pass unnoticed")
			found := false
			for _, v := range violations {
				if v.Invariant == tc.invariant {
					found = true
				}
			}
			assert.True(t, found, "expected invariant %q among %v", tc.invariant, violations)

			err := evidence.CheckStrict(batch)
			var ev *evidence.Error
			require.ErrorAs(t, err, &ev)
			assert.Equal(t, tc.invariant, ev.Violation.Invariant)
			assert.NotEmpty(t, ev.Violation.RecordID)
		})
	}
}

func TestCheck_NaiveTimestamp(t *testing.T) {
	r := allowRecord("e-1", "corr-1", "tenant-a")
	r.Timestamp = "2025-06-01T12:00:00"

	violations := evidence.Check([]evidence.Record{r})
	require.Len(t, violations, 1)
	assert.Equal(t, evidence.InvariantTimestampZone, violations[0].Invariant)
}

func TestCheck_MissingTraceFields(t *testing.T) {
	r := allowRecord("e-1", "corr-1", "")
	r.CorrelationID = ""

	violations := evidence.Check([]evidence.Record{r})
	require.Len(t, violations, 2)
	for _, v := range violations {
		assert.Equal(t, evidence.InvariantTraceFields, v.Invariant)
	}
}

func TestCheck_ExitCodeErrorConsistency(t *testing.T) {
	missing := allowRecord("e-1", "corr-1", "tenant-a")
	missing.ExitCode = 1 // denial with no error code

	spurious := allowRecord("e-2", "corr-2", "tenant-a")
	spurious.ErrorCode = "GATEHOUSE/KERNEL/AUTH/PERMISSION_DENIED" // success with one

	for _, r := range []evidence.Record{missing, spurious} {
		violations := evidence.Check([]evidence.Record{r})
		require.NotEmpty(t, violations, "record %s", r.EntryID)
		assert.Equal(t, evidence.InvariantExitConsistency, violations[0].Invariant)
	}
}

func TestCheck_BlankIdempotencyKey(t *testing.T) {
	blank := allowRecord("e-1", "corr-1", "tenant-a")
	blank.IdempotencyKey = strp("   ")
	violations := evidence.Check([]evidence.Record{blank})
	require.Len(t, violations, 1)
	assert.Equal(t, evidence.InvariantIdempotencyKey, violations[0].Invariant)

	// An absent key is not a violation; not every boundary derives one.
	absent := allowRecord("e-2", "corr-2", "tenant-a")
	absent.IdempotencyKey = nil
	assert.Empty(t, evidence.Check([]evidence.Record{absent}))
}

func TestCheck_ConfidenceOutOfRange(t *testing.T) {
	r := allowRecord("e-1", "corr-1", "tenant-a")
	r.ConfidenceScore = f64p(1.5)

	violations := evidence.Check([]evidence.Record{r})
	require.Len(t, violations, 1)
	assert.Equal(t, evidence.InvariantConfidenceRange, violations[0].Invariant)
}

func TestParseJSONL(t *testing.T) {
	input := `{"entry_id":"e-1","timestamp":"2025-06-01T12:00:00Z","boundary":"db.write","tenant_id":"tenant-a","correlation_id":"corr-1","user_id":"u1","roles":[],"pii_detected":false,"exit_code":0}

{"entry_id":"e-2","timestamp":"2025-06-01T12:00:01Z","boundary":"db.write","tenant_id":"tenant-a","correlation_id":"corr-2","user_id":"u1","roles":[],"pii_detected":false,"exit_code":1,"error_code":"GATEHOUSE/KERNEL/AUTH/PERMISSION_DENIED"}
`
	records, err := evidence.ParseJSONL(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "e-1", records[0].EntryID)
	assert.Equal(t, 1, records[1].ExitCode)
	assert.Empty(t, evidence.Check(records))
}

func TestParseJSONL_MalformedLine(t *testing.T) {
	input := "{\"entry_id\":\"e-1\"}\nnot json\n"
	_, err := evidence.ParseJSONL(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}
