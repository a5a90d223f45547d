package claims_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/gatehouse/pkg/claims"
	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
)

func TestFromMap_Complete(t *testing.T) {
	c, err := claims.FromMap(map[string]any{
		"sub":       "u1",
		"roles":     []any{"reader", "writer"},
		"exp":       float64(1750000000),
		"jti":       "tok-1",
		"tenant_id": "t1",
	})
	require.NoError(t, err)

	assert.Equal(t, "u1", c.Subject)
	assert.Equal(t, []string{"reader", "writer"}, c.Roles)
	assert.Equal(t, "tok-1", c.TokenID)
	assert.Equal(t, "t1", c.TenantID)
	require.NotNil(t, c.ExpiresAt)
	assert.Equal(t, int64(1750000000), c.ExpiresAt.Unix())
}

func TestFromMap_MinimalRequired(t *testing.T) {
	c, err := claims.FromMap(map[string]any{"sub": "u1", "roles": []string{"reader"}})
	require.NoError(t, err)
	assert.Empty(t, c.TenantID)
	assert.Nil(t, c.ExpiresAt)
}

func TestFromMap_MalformedShapes(t *testing.T) {
	cases := []struct {
		name string
		in   map[string]any
	}{
		{"absent", nil},
		{"missing sub", map[string]any{"roles": []any{"r"}}},
		{"empty sub", map[string]any{"sub": "", "roles": []any{"r"}}},
		{"non-string sub", map[string]any{"sub": 42, "roles": []any{"r"}}},
		{"missing roles", map[string]any{"sub": "u1"}},
		{"non-list roles", map[string]any{"sub": "u1", "roles": "reader"}},
		{"non-string role entry", map[string]any{"sub": "u1", "roles": []any{"r", 7}}},
		{"non-numeric exp", map[string]any{"sub": "u1", "roles": []any{"r"}, "exp": "soon"}},
		{"non-string jti", map[string]any{"sub": "u1", "roles": []any{"r"}, "jti": 9}},
		{"non-string tenant", map[string]any{"sub": "u1", "roles": []any{"r"}, "tenant_id": 3}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := claims.FromMap(tc.in)
			require.Error(t, err)
			assert.True(t, kernelerr.HasCode(err, kernelerr.CodeMalformedClaims), "got %v", err)
		})
	}
}

func TestJWTRoundTrip(t *testing.T) {
	key := []byte("test-secret")
	in := &claims.Claims{
		Subject:  "u1",
		Roles:    []string{"reader"},
		TenantID: "t1",
		TokenID:  "tok-1",
	}

	token, err := claims.SignHS256(in, key, time.Hour)
	require.NoError(t, err)

	out, err := claims.ParseHS256(token, key)
	require.NoError(t, err)
	assert.Equal(t, "u1", out.Subject)
	assert.Equal(t, []string{"reader"}, out.Roles)
	assert.Equal(t, "t1", out.TenantID)
	assert.Equal(t, "tok-1", out.TokenID)
	require.NotNil(t, out.ExpiresAt)
}

func TestJWT_Expired(t *testing.T) {
	key := []byte("test-secret")
	token, err := claims.SignHS256(&claims.Claims{
		Subject: "u1", Roles: []string{"reader"},
	}, key, -time.Minute)
	require.NoError(t, err)

	_, err = claims.ParseHS256(token, key)
	require.Error(t, err)
	assert.True(t, kernelerr.HasCode(err, kernelerr.CodeTokenExpired))
}

func TestJWT_WrongKey(t *testing.T) {
	token, err := claims.SignHS256(&claims.Claims{
		Subject: "u1", Roles: []string{"reader"},
	}, []byte("key-a"), time.Hour)
	require.NoError(t, err)

	_, err = claims.ParseHS256(token, []byte("key-b"))
	require.Error(t, err)
	assert.True(t, kernelerr.HasCode(err, kernelerr.CodeMalformedClaims))
}

func TestJWT_Garbage(t *testing.T) {
	_, err := claims.ParseHS256("not.a.token", []byte("k"))
	require.Error(t, err)
	assert.True(t, kernelerr.HasCode(err, kernelerr.CodeMalformedClaims))
}

func TestMemoryRevocations(t *testing.T) {
	rev := claims.NewMemoryRevocations()
	ctx := context.Background()

	revoked, err := rev.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	rev.Revoke("tok-1")
	revoked, err = rev.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}
