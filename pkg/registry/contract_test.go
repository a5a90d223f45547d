package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/gatehouse/pkg/registry"
)

func TestContractRegistry_RegisterAndGet(t *testing.T) {
	reg := registry.NewContractRegistry()
	require.NoError(t, reg.Register(registry.Contract{
		ID:       "icd.orders.v1",
		Name:     "orders interface",
		Version:  "1.2.0",
		SchemaID: "orders.create",
	}))

	c, err := reg.Get("icd.orders.v1")
	require.NoError(t, err)
	assert.Equal(t, "orders interface", c.Name)
	assert.Equal(t, "1.2.0", c.Version)
}

func TestContractRegistry_LiveDuplicateIsError(t *testing.T) {
	reg := registry.NewContractRegistry()
	c := registry.Contract{ID: "icd.orders.v1", Name: "orders", Version: "1.0.0"}
	require.NoError(t, reg.Register(c))

	err := reg.Register(c)
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrAlreadyRegistered)
}

func TestContractRegistry_ExpiredEntryReplaceable(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reg := registry.NewContractRegistry(
		registry.WithContractClock(func() time.Time { return now }),
	)

	require.NoError(t, reg.Register(registry.Contract{
		ID: "icd.orders.v1", Name: "orders", Version: "1.0.0", TTL: time.Hour,
	}))

	// Still live: lookup succeeds, replacement fails.
	now = now.Add(30 * time.Minute)
	_, err := reg.Get("icd.orders.v1")
	require.NoError(t, err)
	assert.ErrorIs(t, reg.Register(registry.Contract{
		ID: "icd.orders.v1", Name: "orders", Version: "1.0.1",
	}), registry.ErrAlreadyRegistered)

	// Past the TTL: lookup reports expiry, replacement is allowed.
	now = now.Add(31 * time.Minute)
	_, err = reg.Get("icd.orders.v1")
	assert.ErrorIs(t, err, registry.ErrContractExpired)

	require.NoError(t, reg.Register(registry.Contract{
		ID: "icd.orders.v1", Name: "orders", Version: "1.0.1", TTL: time.Hour,
	}))
	c, err := reg.Get("icd.orders.v1")
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", c.Version)
}

func TestContractRegistry_Compatible(t *testing.T) {
	reg := registry.NewContractRegistry()
	require.NoError(t, reg.Register(registry.Contract{
		ID: "icd.orders.v1", Name: "orders", Version: "2.3.0",
	}))

	ok, err := reg.Compatible("icd.orders.v1", "2.0.0")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.Compatible("icd.orders.v1", "3.0.0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestContractRegistry_BadVersionRejected(t *testing.T) {
	reg := registry.NewContractRegistry()
	err := reg.Register(registry.Contract{ID: "icd.x", Name: "x", Version: "not-semver"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestContractRegistry_NotFoundAndFreeze(t *testing.T) {
	reg := registry.NewContractRegistry()
	_, err := reg.Get("ghost")
	assert.ErrorIs(t, err, registry.ErrContractNotFound)

	reg.Freeze()
	err = reg.Register(registry.Contract{ID: "icd.x", Name: "x", Version: "1.0.0"})
	assert.ErrorIs(t, err, registry.ErrFrozen)
}
