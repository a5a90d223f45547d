package registry

import (
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
)

type budgetKey struct {
	tenant   string
	resource string
}

// BudgetRegistry maps (tenant, resource) pairs to numeric limits. Limits are
// enforcement configuration; live usage lives in the usage trackers.
type BudgetRegistry struct {
	mu     sync.RWMutex
	frozen bool
	limits map[budgetKey]int64
}

// NewBudgetRegistry creates an empty budget registry.
func NewBudgetRegistry() *BudgetRegistry {
	return &BudgetRegistry{limits: make(map[budgetKey]int64)}
}

// RegisterLimit stores the limit for (tenant, resource). Duplicate pairs and
// post-freeze registration are errors.
func (r *BudgetRegistry) RegisterLimit(tenant, resource string, limit int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := budgetKey{tenant: tenant, resource: resource}
	if r.frozen {
		return fmt.Errorf("%w: budget %s/%s", ErrFrozen, tenant, resource)
	}
	if _, ok := r.limits[k]; ok {
		return fmt.Errorf("%w: budget %s/%s", ErrAlreadyRegistered, tenant, resource)
	}

	r.limits[k] = limit
	return nil
}

// Limit returns the configured limit for (tenant, resource).
func (r *BudgetRegistry) Limit(tenant, resource string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit, ok := r.limits[budgetKey{tenant: tenant, resource: resource}]
	if !ok {
		return 0, kernelerr.Newf(kernelerr.CodeBudgetNotFound,
			"no budget configured for tenant %q resource %q", tenant, resource)
	}
	return limit, nil
}

// Freeze ends the bootstrap phase.
func (r *BudgetRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Len returns the number of configured limits.
func (r *BudgetRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limits)
}
