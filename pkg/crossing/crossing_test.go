package crossing_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/gatehouse/pkg/claims"
	"github.com/Mindburn-Labs/gatehouse/pkg/crossing"
	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
	"github.com/Mindburn-Labs/gatehouse/pkg/registry"
	"github.com/Mindburn-Labs/gatehouse/pkg/wal"
)

func passGate(name string, log *[]string) crossing.Gate {
	return crossing.NewGate(name, func(context.Context, *crossing.Context) error {
		*log = append(*log, name)
		return nil
	})
}

func failGate(name string, log *[]string, err error) crossing.Gate {
	return crossing.NewGate(name, func(context.Context, *crossing.Context) error {
		*log = append(*log, name)
		return err
	})
}

func TestValidateTransition_LegalEdges(t *testing.T) {
	legal := [][2]crossing.State{
		{crossing.StateIdle, crossing.StateEntering},
		{crossing.StateEntering, crossing.StateActive},
		{crossing.StateEntering, crossing.StateFaulted},
		{crossing.StateActive, crossing.StateExiting},
		{crossing.StateActive, crossing.StateFaulted},
		{crossing.StateExiting, crossing.StateIdle},
		{crossing.StateExiting, crossing.StateFaulted},
		{crossing.StateFaulted, crossing.StateIdle},
	}
	for _, edge := range legal {
		assert.NoError(t, crossing.ValidateTransition(edge[0], edge[1]),
			"%s -> %s should be legal", edge[0], edge[1])
	}
}

func TestValidateTransition_IllegalEdges(t *testing.T) {
	states := []crossing.State{
		crossing.StateIdle, crossing.StateEntering, crossing.StateActive,
		crossing.StateExiting, crossing.StateFaulted,
	}
	legalCount := 0
	for _, from := range states {
		for _, to := range states {
			err := crossing.ValidateTransition(from, to)
			if err == nil {
				legalCount++
				continue
			}
			var te *kernelerr.TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, string(from), te.From)
			assert.Equal(t, string(to), te.To)
			assert.True(t, kernelerr.HasCode(err, kernelerr.CodeInvariantViolation))
		}
	}
	assert.Equal(t, 8, legalCount, "exactly eight edges are legal")
}

func TestValidateTransition_UnknownState(t *testing.T) {
	err := crossing.ValidateTransition(crossing.State("Limbo"), crossing.StateIdle)
	require.Error(t, err)

	var te *kernelerr.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Empty(t, te.Allowed)
}

func TestValidateTransition_PureAndDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		assert.NoError(t, crossing.ValidateTransition(crossing.StateIdle, crossing.StateEntering))
		assert.Error(t, crossing.ValidateTransition(crossing.StateIdle, crossing.StateActive))
	}

	// Mutating the returned successor slice must not affect the table.
	succ := crossing.SuccessorsOf(crossing.StateEntering)
	require.Len(t, succ, 2)
	succ[0] = crossing.State("Corrupted")
	fresh := crossing.SuccessorsOf(crossing.StateEntering)
	assert.Contains(t, fresh, crossing.StateActive)
	assert.Contains(t, fresh, crossing.StateFaulted)
}

func TestOpen_RunsGatesInOrder(t *testing.T) {
	var log []string
	c := crossing.New("tool.invoke", crossing.WithEntryGates(
		passGate("first", &log),
		passGate("second", &log),
		passGate("third", &log),
	))

	require.NoError(t, c.Open(context.Background()))
	assert.Equal(t, crossing.StateActive, c.State())
	assert.Equal(t, []string{"first", "second", "third"}, log)
	assert.Equal(t,
		[]crossing.State{crossing.StateIdle, crossing.StateEntering, crossing.StateActive},
		c.Trace())
}

func TestOpen_FirstFailureAbortsRemainingGates(t *testing.T) {
	var log []string
	denied := kernelerr.New(kernelerr.CodePermissionDenied, "no write access")
	c := crossing.New("tool.invoke", crossing.WithEntryGates(
		passGate("first", &log),
		failGate("second", &log, denied),
		passGate("third", &log),
	))

	err := c.Open(context.Background())
	require.Error(t, err)
	assert.Same(t, denied, err, "caller sees the gate's original error")
	assert.Equal(t, []string{"first", "second"}, log)
	assert.Equal(t, crossing.StateIdle, c.State())
	assert.Equal(t,
		[]crossing.State{crossing.StateIdle, crossing.StateEntering, crossing.StateFaulted, crossing.StateIdle},
		c.Trace())
}

func TestOpen_NoReentrancy(t *testing.T) {
	c := crossing.New("tool.invoke")
	require.NoError(t, c.Open(context.Background()))

	err := c.Open(context.Background())
	require.Error(t, err)
	assert.True(t, kernelerr.HasCode(err, kernelerr.CodeInvariantViolation))
	assert.Equal(t, crossing.StateActive, c.State(), "running crossing is untouched")
}

func TestClose_RunsExitGates(t *testing.T) {
	var log []string
	c := crossing.New("tool.invoke", crossing.WithExitGates(
		passGate("cleanup-a", &log),
		passGate("cleanup-b", &log),
	))
	require.NoError(t, c.Open(context.Background()))

	require.NoError(t, c.Close(context.Background(), nil))
	assert.Equal(t, []string{"cleanup-a", "cleanup-b"}, log)
	assert.Equal(t, crossing.StateIdle, c.State())
	assert.Equal(t,
		[]crossing.State{
			crossing.StateIdle, crossing.StateEntering, crossing.StateActive,
			crossing.StateExiting, crossing.StateIdle,
		},
		c.Trace())
}

func TestClose_BodyErrorSkipsExitGates(t *testing.T) {
	var log []string
	bodyErr := errors.New("downstream exploded")
	c := crossing.New("tool.invoke", crossing.WithExitGates(passGate("cleanup", &log)))
	require.NoError(t, c.Open(context.Background()))

	err := c.Close(context.Background(), bodyErr)
	assert.Same(t, bodyErr, err)
	assert.Empty(t, log)
	assert.Equal(t, crossing.StateIdle, c.State())
	assert.Equal(t,
		[]crossing.State{
			crossing.StateIdle, crossing.StateEntering, crossing.StateActive,
			crossing.StateFaulted, crossing.StateIdle,
		},
		c.Trace())
}

func TestClose_ExitGateFailure(t *testing.T) {
	var log []string
	walErr := kernelerr.New(kernelerr.CodeWALWrite, "disk full")
	c := crossing.New("tool.invoke", crossing.WithExitGates(
		failGate("durability", &log, walErr),
	))
	require.NoError(t, c.Open(context.Background()))

	err := c.Close(context.Background(), nil)
	assert.Same(t, walErr, err)
	assert.Equal(t, crossing.StateIdle, c.State())
	assert.Equal(t,
		[]crossing.State{
			crossing.StateIdle, crossing.StateEntering, crossing.StateActive,
			crossing.StateExiting, crossing.StateFaulted, crossing.StateIdle,
		},
		c.Trace())
}

func TestClose_WithoutOpenIsInvariantViolation(t *testing.T) {
	c := crossing.New("tool.invoke")
	err := c.Close(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, kernelerr.HasCode(err, kernelerr.CodeInvariantViolation))
	assert.Equal(t, crossing.StateIdle, c.State())
}

func TestRun_HappyPath(t *testing.T) {
	var log []string
	c := crossing.New("tool.invoke",
		crossing.WithEntryGates(passGate("entry", &log)),
		crossing.WithExitGates(passGate("exit", &log)),
	)

	ran := false
	err := crossing.Run(context.Background(), c, func(context.Context) error {
		ran = true
		assert.Equal(t, crossing.StateActive, c.State())
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []string{"entry", "exit"}, log)
	assert.Equal(t, crossing.StateIdle, c.State())
}

func TestRun_BodyErrorPropagatesUnchanged(t *testing.T) {
	bodyErr := errors.New("application failure")
	c := crossing.New("tool.invoke")

	err := crossing.Run(context.Background(), c, func(context.Context) error {
		return bodyErr
	})
	assert.Same(t, bodyErr, err)
	assert.Equal(t, crossing.StateIdle, c.State())
}

func TestRun_CancellationFaultsTheCrossing(t *testing.T) {
	c := crossing.New("tool.invoke")
	ctx, cancel := context.WithCancel(context.Background())

	err := crossing.Run(ctx, c, func(bodyCtx context.Context) error {
		cancel()
		<-bodyCtx.Done()
		return bodyCtx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, crossing.StateIdle, c.State())
}

func TestRun_PanicReraisesAfterIdle(t *testing.T) {
	c := crossing.New("tool.invoke")

	assert.PanicsWithValue(t, "boom", func() {
		_ = crossing.Run(context.Background(), c, func(context.Context) error {
			panic("boom")
		})
	})
	assert.Equal(t, crossing.StateIdle, c.State())
	trace := c.Trace()
	assert.Equal(t, crossing.StateIdle, trace[len(trace)-1])
}

func TestRun_BodySeesResolvedCorrelation(t *testing.T) {
	resolver := crossing.NewGate("trace", func(_ context.Context, c *crossing.Context) error {
		c.SetCorrelationID("11111111-2222-4333-8444-555555555555")
		c.SetTenantID("tenant-a")
		return nil
	})
	c := crossing.New("tool.invoke", crossing.WithEntryGates(resolver))

	err := crossing.Run(context.Background(), c, func(bodyCtx context.Context) error {
		id, ok := crossing.CorrelationFromContext(bodyCtx)
		assert.True(t, ok)
		assert.Equal(t, "11111111-2222-4333-8444-555555555555", id)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", c.TenantID())
}

// Exhaustive liveness check: every combination of entry-gate failures,
// body outcome and exit-gate failures must leave the context Idle.
func TestLiveness_AllOutcomeCombinations(t *testing.T) {
	const entryGates = 3
	const exitGates = 2
	boom := errors.New("injected failure")

	for mask := 0; mask < 1<<(entryGates+exitGates); mask++ {
		for _, bodyFails := range []bool{false, true} {
			name := fmt.Sprintf("mask=%05b body=%v", mask, bodyFails)
			t.Run(name, func(t *testing.T) {
				var entry, exit []crossing.Gate
				for i := 0; i < entryGates; i++ {
					var log []string
					if mask&(1<<i) != 0 {
						entry = append(entry, failGate(fmt.Sprintf("entry-%d", i), &log, boom))
					} else {
						entry = append(entry, passGate(fmt.Sprintf("entry-%d", i), &log))
					}
				}
				for i := 0; i < exitGates; i++ {
					var log []string
					if mask&(1<<(entryGates+i)) != 0 {
						exit = append(exit, failGate(fmt.Sprintf("exit-%d", i), &log, boom))
					} else {
						exit = append(exit, passGate(fmt.Sprintf("exit-%d", i), &log))
					}
				}

				c := crossing.New("tool.invoke",
					crossing.WithEntryGates(entry...),
					crossing.WithExitGates(exit...),
				)
				_ = crossing.Run(context.Background(), c, func(context.Context) error {
					if bodyFails {
						return boom
					}
					return nil
				})

				assert.Equal(t, crossing.StateIdle, c.State())
				trace := c.Trace()
				assert.Equal(t, crossing.StateIdle, trace[0])
				assert.Equal(t, crossing.StateIdle, trace[len(trace)-1])
			})
		}
	}
}

func TestFault_RecordsDenialThroughAuditor(t *testing.T) {
	backend := wal.NewMemoryBackend()
	denied := kernelerr.New(kernelerr.CodePermissionDenied, "no access")
	cl := &claims.Claims{Subject: "u1", Roles: []string{"reader"}, TenantID: "tenant-a"}

	c := crossing.New("tool.invoke",
		crossing.WithClaims(cl),
		crossing.WithAuditor(backendAuditor{backend}),
		crossing.WithEntryGates(
			crossing.NewGate("deny", func(context.Context, *crossing.Context) error {
				return denied
			}),
		),
	)

	err := crossing.Run(context.Background(), c, func(context.Context) error {
		t.Fatal("body must not run after a gate denial")
		return nil
	})
	assert.Same(t, denied, err)
	assert.True(t, c.Recorded())

	entries, listErr := backend.List(context.Background())
	require.NoError(t, listErr)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, wal.ExitDenied, e.ExitCode)
	assert.Equal(t, string(kernelerr.CodePermissionDenied), e.ErrorCode)
	assert.Equal(t, "u1", e.UserID)
	assert.NotEmpty(t, e.CorrelationID)
	assert.NotEmpty(t, e.TenantID)
}

type backendAuditor struct {
	backend wal.Backend
}

func (a backendAuditor) Record(ctx context.Context, e *wal.Entry) error {
	return a.backend.Append(ctx, e)
}

func TestFinalizeEntry_Defaults(t *testing.T) {
	c := crossing.New("tool.invoke", crossing.WithClock(func() time.Time {
		return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	}))

	e := c.FinalizeEntry(nil)
	assert.NotEmpty(t, e.EntryID)
	assert.Equal(t, "tool.invoke", e.Boundary)
	assert.Equal(t, "unattributed", e.TenantID)
	assert.Equal(t, "anonymous", e.UserID)
	assert.NotNil(t, e.Roles)
	assert.NotEmpty(t, e.CorrelationID)
	assert.Equal(t, wal.ExitOK, e.ExitCode)
	assert.Empty(t, e.ErrorCode)
	assert.Equal(t, 2026, e.Timestamp.Year())
	require.NoError(t, e.Validate())
}

func TestFinalizeEntry_UnclassifiedBodyError(t *testing.T) {
	c := crossing.New("tool.invoke")
	e := c.FinalizeEntry(errors.New("plain application error"))
	assert.Equal(t, wal.ExitFatal, e.ExitCode)
	assert.Equal(t, string(kernelerr.CodeUnclassified), e.ErrorCode)
}

func TestOpen_ContractExpiryRefusesCrossing(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	reg := registry.NewContractRegistry(registry.WithContractClock(func() time.Time { return now }))
	require.NoError(t, reg.Register(registry.Contract{
		ID: "orders.v1", Name: "orders", Version: "1.2.0", TTL: time.Hour,
	}))

	c := crossing.New("tool.invoke", crossing.WithContract("orders.v1", reg))
	require.NoError(t, c.Open(context.Background()))
	require.NoError(t, c.Close(context.Background(), nil))

	now = now.Add(2 * time.Hour)
	expired := crossing.New("tool.invoke", crossing.WithContract("orders.v1", reg))
	err := expired.Open(context.Background())
	assert.ErrorIs(t, err, registry.ErrContractExpired)
	assert.Equal(t, crossing.StateIdle, expired.State())
}

type staticComponents map[string]bool

func (s staticComponents) HasComponent(id string) bool { return s[id] }

func TestOpen_ComponentValidation(t *testing.T) {
	known := staticComponents{"svc.orders": true}

	ok := crossing.New("tool.invoke", crossing.WithComponent("svc.orders", known))
	require.NoError(t, ok.Open(context.Background()))

	bad := crossing.New("tool.invoke", crossing.WithComponent("svc.ghost", known))
	err := bad.Open(context.Background())
	require.Error(t, err)
	assert.True(t, kernelerr.HasCode(err, kernelerr.CodeInvariantViolation))
	assert.Equal(t, crossing.StateIdle, bad.State())

	// Without a resolver the id is attached but never validated.
	unchecked := crossing.New("tool.invoke", crossing.WithComponent("svc.ghost", nil))
	require.NoError(t, unchecked.Open(context.Background()))
}
