package registry

import (
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
)

// PermissionRegistry maps role names to permission sets.
type PermissionRegistry struct {
	mu     sync.RWMutex
	frozen bool
	roles  map[string]map[string]struct{}
}

// NewPermissionRegistry creates an empty permission registry.
func NewPermissionRegistry() *PermissionRegistry {
	return &PermissionRegistry{roles: make(map[string]map[string]struct{})}
}

// RegisterRole stores the permission set for a role. Duplicate roles and
// post-freeze registration are errors.
func (r *PermissionRegistry) RegisterRole(role string, perms []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: role %q", ErrFrozen, role)
	}
	if _, ok := r.roles[role]; ok {
		return fmt.Errorf("%w: role %q", ErrAlreadyRegistered, role)
	}

	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	r.roles[role] = set
	return nil
}

// PermissionsForRole returns a copy of the role's permission set. Unknown
// roles are a role-not-found error: a claims list naming an unregistered
// role denies the crossing rather than silently contributing nothing.
func (r *PermissionRegistry) PermissionsForRole(role string) (map[string]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.roles[role]
	if !ok {
		return nil, kernelerr.Newf(kernelerr.CodeRoleNotFound, "role %q is not registered", role)
	}
	out := make(map[string]struct{}, len(set))
	for p := range set {
		out[p] = struct{}{}
	}
	return out, nil
}

// Freeze ends the bootstrap phase.
func (r *PermissionRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Len returns the number of registered roles.
func (r *PermissionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roles)
}
