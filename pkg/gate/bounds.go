package gate

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/gatehouse/pkg/crossing"
	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
	"github.com/Mindburn-Labs/gatehouse/pkg/registry"
	"github.com/Mindburn-Labs/gatehouse/pkg/usage"
)

// Bounds enforces the tenant's budget for one resource. The reservation is
// atomic in the tracker: concurrent crossings can never jointly overrun the
// limit, and a denied crossing leaves the counter untouched.
func Bounds(budgets *registry.BudgetRegistry, tracker usage.Tracker, resource string, amount int64) crossing.Gate {
	return crossing.NewGate("bounds", func(ctx context.Context, c *crossing.Context) error {
		entry := c.Entry()
		entry.ResourceType = resource
		entry.RequestedAmount = int64Ptr(amount)

		tenant := c.TenantID()
		if tenant == "" {
			if cl := c.Claims(); cl != nil {
				tenant = cl.TenantID
			}
		}
		if tenant == "" {
			return kernelerr.New(kernelerr.CodeTenantMissing, "no tenant to attribute usage to")
		}

		limit, err := budgets.Limit(tenant, resource)
		if err != nil {
			return err
		}
		entry.BudgetLimit = int64Ptr(limit)

		before, err := tracker.CheckAndIncrement(ctx, tenant, resource, amount, limit)
		entry.UsageBefore = int64Ptr(before)
		if err != nil {
			if errors.Is(err, usage.ErrLimitExceeded) {
				return &kernelerr.BoundsExceededError{
					Tenant:      tenant,
					Resource:    resource,
					Limit:       limit,
					UsageBefore: before,
					Requested:   amount,
				}
			}
			return kernelerr.Wrap(kernelerr.CodeTrackerUnavailable, err, "usage tracker unreachable")
		}
		return nil
	})
}
