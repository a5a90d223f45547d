package approval

import (
	"context"
	"sync"
)

// ThresholdPolicy maps operations to the minimum confidence score that
// skips human review. Operations without an override use the default.
type ThresholdPolicy struct {
	mu           sync.RWMutex
	defaultValue float64
	perOperation map[string]float64
}

func NewThresholdPolicy(defaultThreshold float64) *ThresholdPolicy {
	return &ThresholdPolicy{
		defaultValue: defaultThreshold,
		perOperation: make(map[string]float64),
	}
}

// SetOperation overrides the threshold for one operation.
func (p *ThresholdPolicy) SetOperation(operation string, threshold float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.perOperation[operation] = threshold
}

// ThresholdFor returns the operation's threshold or the default.
func (p *ThresholdPolicy) ThresholdFor(operation string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if t, ok := p.perOperation[operation]; ok {
		return t
	}
	return p.defaultValue
}

// ConfidenceEvaluator scores how certain the platform is that an
// operation is safe to run unattended, in [0, 1].
type ConfidenceEvaluator interface {
	Score(ctx context.Context, boundary string, payload any) (float64, error)
}

// EvaluatorFunc adapts a function to ConfidenceEvaluator.
type EvaluatorFunc func(ctx context.Context, boundary string, payload any) (float64, error)

func (f EvaluatorFunc) Score(ctx context.Context, boundary string, payload any) (float64, error) {
	return f(ctx, boundary, payload)
}

// StaticEvaluator returns a fixed score. Useful for tests and for
// deployments that pin review on or off per environment.
type StaticEvaluator struct {
	Value float64
}

func (s StaticEvaluator) Score(context.Context, string, any) (float64, error) {
	return s.Value, nil
}
