package gate

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/gatehouse/pkg/canonical"
	"github.com/Mindburn-Labs/gatehouse/pkg/crossing"
	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
	"github.com/Mindburn-Labs/gatehouse/pkg/usage"
)

// Idempotency derives a deterministic key from the canonical payload hash
// and checks-and-marks it against the store. A key seen before denies as a
// duplicate; a payload that cannot be canonicalized is its own failure and
// marks nothing.
func Idempotency(marks usage.MarkStore, payload any) crossing.Gate {
	return crossing.NewGate("idempotency", func(ctx context.Context, c *crossing.Context) error {
		key, err := canonical.Hash(payload)
		if err != nil {
			return err
		}
		c.Entry().IdempotencyKey = key

		if err := marks.CheckAndMark(ctx, key); err != nil {
			if errors.Is(err, usage.ErrDuplicate) {
				return kernelerr.New(kernelerr.CodeDuplicateRequest, "payload was already processed").
					With("idempotency_key", key)
			}
			return kernelerr.Wrap(kernelerr.CodeTrackerUnavailable, err, "idempotency store unreachable")
		}
		return nil
	})
}
