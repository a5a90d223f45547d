package gate

import (
	"context"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/gatehouse/pkg/crossing"
	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
)

// Trace resolves the crossing's tenant and correlation id. The tenant comes
// from claims and is mandatory; the correlation id prefers a well-formed
// caller-supplied id, then one inherited from the ambient context, and mints
// a fresh one otherwise. A malformed id is replaced, not trusted.
func Trace() crossing.Gate {
	return crossing.NewGate("trace", func(ctx context.Context, c *crossing.Context) error {
		cl := c.Claims()
		if cl == nil || cl.TenantID == "" {
			return kernelerr.New(kernelerr.CodeTenantMissing, "claims carry no tenant id")
		}
		c.SetTenantID(cl.TenantID)

		corr := c.CallerCorrelationID()
		if _, err := uuid.Parse(corr); err != nil {
			corr = ""
		}
		if corr == "" {
			if ambient, ok := crossing.CorrelationFromContext(ctx); ok {
				if _, err := uuid.Parse(ambient); err == nil {
					corr = ambient
				}
			}
		}
		if corr == "" {
			corr = uuid.New().String()
		}
		c.SetCorrelationID(corr)
		return nil
	})
}
