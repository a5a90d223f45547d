package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Mindburn-Labs/gatehouse/pkg/crossing"
)

var _ crossing.Observer = (*Provider)(nil)

// OnTransition implements crossing.Observer. Each state machine transition
// increments the transition counter, labelled with the edge it took.
func (p *Provider) OnTransition(boundary string, from, to crossing.State) {
	if p.transitionCounter == nil {
		return
	}
	p.transitionCounter.Add(context.Background(), 1, metric.WithAttributes(
		AttrBoundary.String(boundary),
		AttrStateFrom.String(string(from)),
		AttrStateTo.String(string(to)),
	))
}

// OnGateResult implements crossing.Observer. Every gate check is counted by
// outcome; denials carry the taxonomy code of the refusing gate.
func (p *Provider) OnGateResult(boundary, gate string, err error) {
	if p.gateCounter == nil {
		return
	}
	attrs := []attribute.KeyValue{
		AttrBoundary.String(boundary),
		AttrGate.String(gate),
	}
	if err != nil {
		attrs = append(attrs,
			AttrGateOutcome.String("deny"),
			AttrErrorCode.String(errorCode(err)),
		)
	} else {
		attrs = append(attrs, AttrGateOutcome.String("pass"))
	}
	p.gateCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
