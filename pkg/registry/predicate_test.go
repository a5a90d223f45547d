package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
	"github.com/Mindburn-Labs/gatehouse/pkg/registry"
)

func TestPredicateRegistry_NativeFunc(t *testing.T) {
	reg := registry.NewPredicateRegistry()
	require.NoError(t, reg.RegisterFunc("non_empty", func(_ context.Context, output any) (bool, error) {
		s, ok := output.(string)
		return ok && s != "", nil
	}))

	p, err := reg.Get("non_empty")
	require.NoError(t, err)

	pass, err := p.Eval(context.Background(), "hello")
	require.NoError(t, err)
	assert.True(t, pass)

	pass, err = p.Eval(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, pass)
}

func TestPredicateRegistry_CEL(t *testing.T) {
	reg := registry.NewPredicateRegistry()
	require.NoError(t, reg.RegisterCEL("safe_total", `output.total < 1000.0 && output.currency == "EUR"`))

	p, err := reg.Get("safe_total")
	require.NoError(t, err)

	pass, err := p.Eval(context.Background(), map[string]any{"total": 250.0, "currency": "EUR"})
	require.NoError(t, err)
	assert.True(t, pass)

	pass, err = p.Eval(context.Background(), map[string]any{"total": 2500.0, "currency": "EUR"})
	require.NoError(t, err)
	assert.False(t, pass)
}

func TestPredicateRegistry_CELStructOutput(t *testing.T) {
	type invoice struct {
		Total    float64 `json:"total"`
		Currency string  `json:"currency"`
	}

	reg := registry.NewPredicateRegistry()
	require.NoError(t, reg.RegisterCEL("invoice_ok", `output.total >= 0.0`))

	p, err := reg.Get("invoice_ok")
	require.NoError(t, err)

	pass, err := p.Eval(context.Background(), invoice{Total: 10, Currency: "EUR"})
	require.NoError(t, err)
	assert.True(t, pass)
}

func TestPredicateRegistry_CELCompileError(t *testing.T) {
	reg := registry.NewPredicateRegistry()
	err := reg.RegisterCEL("broken", `output.total <`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cel compile")
}

func TestPredicateRegistry_CELRuntimeError(t *testing.T) {
	reg := registry.NewPredicateRegistry()
	// Field access on a missing key fails at evaluation time.
	require.NoError(t, reg.RegisterCEL("needs_field", `output.missing_field == 1.0`))

	p, err := reg.Get("needs_field")
	require.NoError(t, err)

	_, err = p.Eval(context.Background(), map[string]any{"other": 1})
	assert.Error(t, err)
}

func TestPredicateRegistry_CELNonBoolean(t *testing.T) {
	reg := registry.NewPredicateRegistry()
	require.NoError(t, reg.RegisterCEL("not_bool", `output.total`))

	p, err := reg.Get("not_bool")
	require.NoError(t, err)

	_, err = p.Eval(context.Background(), map[string]any{"total": 5.0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want bool")
}

func TestPredicateRegistry_WASMInvalidModule(t *testing.T) {
	reg := registry.NewPredicateRegistry()
	defer func() { _ = reg.Close(context.Background()) }()

	err := reg.RegisterWASM(context.Background(), "bad", []byte("not wasm"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wasm compile")

	// A failed registration leaves nothing behind.
	_, err = reg.Get("bad")
	assert.True(t, kernelerr.HasCode(err, kernelerr.CodePredicateNotFound))
}

func TestPredicateRegistry_NotFound(t *testing.T) {
	reg := registry.NewPredicateRegistry()
	_, err := reg.Get("ghost")
	require.Error(t, err)
	assert.True(t, kernelerr.HasCode(err, kernelerr.CodePredicateNotFound))
}

func TestPredicateRegistry_DuplicateAndFreeze(t *testing.T) {
	reg := registry.NewPredicateRegistry()
	nop := registry.PredicateFunc(func(context.Context, any) (bool, error) { return true, nil })

	require.NoError(t, reg.Register("p1", nop))
	assert.ErrorIs(t, reg.Register("p1", nop), registry.ErrAlreadyRegistered)

	reg.Freeze()
	assert.ErrorIs(t, reg.Register("p2", nop), registry.ErrFrozen)
	assert.ErrorIs(t, reg.RegisterCEL("p3", "true"), registry.ErrFrozen)
}

func TestPredicateRegistry_EvalErrorPropagates(t *testing.T) {
	reg := registry.NewPredicateRegistry()
	boom := errors.New("backend offline")
	require.NoError(t, reg.RegisterFunc("flaky", func(context.Context, any) (bool, error) {
		return false, boom
	}))

	p, err := reg.Get("flaky")
	require.NoError(t, err)

	_, err = p.Eval(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
}

func TestPredicateRegistry_CloseWithoutWASM(t *testing.T) {
	reg := registry.NewPredicateRegistry()
	assert.NoError(t, reg.Close(context.Background()))
}
