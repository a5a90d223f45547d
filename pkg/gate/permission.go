package gate

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/gatehouse/pkg/claims"
	"github.com/Mindburn-Labs/gatehouse/pkg/crossing"
	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
	"github.com/Mindburn-Labs/gatehouse/pkg/registry"
)

type permissionConfig struct {
	revocations claims.RevocationLookup
}

// PermissionOption configures the permission gate.
type PermissionOption func(*permissionConfig)

// WithRevocations enables revocation checks for tokens carrying a token id.
func WithRevocations(lookup claims.RevocationLookup) PermissionOption {
	return func(c *permissionConfig) { c.revocations = lookup }
}

// Permission checks that the caller's roles jointly cover every required
// permission. Expiry and revocation run before the set comparison so a stale
// token never reaches it, and an unreachable revocation store denies.
func Permission(perms *registry.PermissionRegistry, required []string, opts ...PermissionOption) crossing.Gate {
	cfg := permissionConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	requiredSorted := sortedCopy(required)

	return crossing.NewGate("permission", func(ctx context.Context, c *crossing.Context) error {
		entry := c.Entry()
		entry.RequiredPermissions = requiredSorted

		cl := c.Claims()
		if cl == nil {
			entry.Authorized = boolPtr(false)
			return kernelerr.New(kernelerr.CodeMalformedClaims, "claims are absent")
		}
		if cl.Subject == "" {
			entry.Authorized = boolPtr(false)
			return kernelerr.New(kernelerr.CodeMalformedClaims, `claims missing "sub"`)
		}
		if cl.Roles == nil {
			entry.Authorized = boolPtr(false)
			return kernelerr.New(kernelerr.CodeMalformedClaims, `claims missing "roles"`)
		}

		if cl.ExpiresAt != nil && !cl.ExpiresAt.After(c.Now()) {
			entry.Authorized = boolPtr(false)
			return kernelerr.Newf(kernelerr.CodeTokenExpired, "token expired at %s",
				cl.ExpiresAt.UTC().Format(time.RFC3339))
		}

		if cfg.revocations != nil && cl.TokenID != "" {
			revoked, err := cfg.revocations.IsRevoked(ctx, cl.TokenID)
			if err != nil {
				entry.Authorized = boolPtr(false)
				return kernelerr.Wrap(kernelerr.CodeRevocationUnavailable, err, "revocation lookup failed")
			}
			if revoked {
				entry.Authorized = boolPtr(false)
				return kernelerr.Newf(kernelerr.CodeTokenRevoked, "token %q is revoked", cl.TokenID)
			}
		}

		granted := make(map[string]struct{})
		for _, role := range cl.Roles {
			rolePerms, err := perms.PermissionsForRole(role)
			if err != nil {
				entry.Authorized = boolPtr(false)
				return err
			}
			for p := range rolePerms {
				granted[p] = struct{}{}
			}
		}
		grantedSorted := sortedSet(granted)
		entry.GrantedPermissions = grantedSorted

		var missing []string
		for _, p := range requiredSorted {
			if _, ok := granted[p]; !ok {
				missing = append(missing, p)
			}
		}
		if len(missing) > 0 {
			entry.Authorized = boolPtr(false)
			return &kernelerr.PermissionDeniedError{
				Subject:  cl.Subject,
				Required: requiredSorted,
				Granted:  grantedSorted,
				Missing:  missing,
			}
		}

		entry.Authorized = boolPtr(true)
		return nil
	})
}
