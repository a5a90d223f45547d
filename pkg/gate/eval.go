package gate

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/gatehouse/pkg/crossing"
	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
	"github.com/Mindburn-Labs/gatehouse/pkg/registry"
)

// Eval applies a registered predicate to the crossing body's recorded
// output. A predicate returning false denies the crossing; a predicate that
// errors or panics is a separate evaluation failure, never an allow.
func Eval(predicates *registry.PredicateRegistry, predicateID string) crossing.Gate {
	return crossing.NewGate("eval", func(ctx context.Context, c *crossing.Context) error {
		entry := c.Entry()
		entry.Predicates = append(entry.Predicates, predicateID)

		p, err := predicates.Get(predicateID)
		if err != nil {
			return err
		}

		passed, err := runPredicate(ctx, p, c.Output())
		if err != nil {
			entry.EvalPassed = boolPtr(false)
			return kernelerr.Wrapf(kernelerr.CodeEvalError, err, "predicate %q failed to evaluate", predicateID)
		}
		if !passed {
			entry.EvalPassed = boolPtr(false)
			return kernelerr.Newf(kernelerr.CodeEvalGateFailure, "predicate %q rejected the output", predicateID)
		}

		entry.EvalPassed = boolPtr(true)
		return nil
	})
}

// runPredicate converts a panicking predicate into an error so a bad
// predicate can only ever deny.
func runPredicate(ctx context.Context, p registry.Predicate, output any) (passed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			passed = false
			err = fmt.Errorf("predicate panicked: %v", r)
		}
	}()
	return p.Eval(ctx, output)
}
