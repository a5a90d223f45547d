// Package observability — per-boundary health tracking.
//
//   - Health targets per boundary: p99 latency ceiling + denial budget
//   - Burn-rate tracking: how fast the denial budget is being consumed
//   - Windowed status reports plus all-time crossing/denial totals
package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// BoundaryTarget defines acceptable behavior for one boundary.
type BoundaryTarget struct {
	Boundary      string        `json:"boundary"`
	LatencyP99    time.Duration `json:"latency_p99"`     // Target p99 crossing latency
	MaxDenialRate float64       `json:"max_denial_rate"` // Denial budget (0-1)
	WindowHours   int           `json:"window_hours"`    // Evaluation window
}

// BoundaryObservation is a single crossing outcome.
type BoundaryObservation struct {
	Boundary  string        `json:"boundary"`
	Latency   time.Duration `json:"latency"`
	Denied    bool          `json:"denied"`
	Timestamp time.Time     `json:"timestamp"`
}

// BoundaryStatus reports current health for one boundary.
type BoundaryStatus struct {
	Boundary         string  `json:"boundary"`
	CurrentP99       float64 `json:"current_p99_ms"`
	DenialRate       float64 `json:"denial_rate"`
	Healthy          bool    `json:"healthy"`
	BurnRate         float64 `json:"burn_rate"`          // >1 means denials outpace the budget
	DenialBudgetLeft float64 `json:"denial_budget_left"` // percentage remaining
	ObservationCount int     `json:"observation_count"`
}

// BoundaryTotals counts crossings and denials over all recorded observations.
type BoundaryTotals struct {
	Crossings int `json:"crossings"`
	Denials   int `json:"denials"`
}

// HealthTracker monitors crossing health across boundaries.
type HealthTracker struct {
	mu           sync.Mutex
	targets      map[string]*BoundaryTarget
	observations map[string][]BoundaryObservation
	clock        func() time.Time
}

// NewHealthTracker creates a new tracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		targets:      make(map[string]*BoundaryTarget),
		observations: make(map[string][]BoundaryObservation),
		clock:        time.Now,
	}
}

// WithClock overrides clock for testing.
func (t *HealthTracker) WithClock(clock func() time.Time) *HealthTracker {
	t.clock = clock
	return t
}

// SetTarget sets the health target for a boundary.
func (t *HealthTracker) SetTarget(target *BoundaryTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[target.Boundary] = target
}

// Record records a crossing outcome.
func (t *HealthTracker) Record(obs BoundaryObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if obs.Timestamp.IsZero() {
		obs.Timestamp = t.clock()
	}
	t.observations[obs.Boundary] = append(t.observations[obs.Boundary], obs)
}

// Boundaries returns the boundaries with recorded observations, sorted.
func (t *HealthTracker) Boundaries() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.observations))
	for name := range t.observations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Totals returns per-boundary crossing and denial counts over everything
// recorded, ignoring windows and targets.
func (t *HealthTracker) Totals() map[string]BoundaryTotals {
	t.mu.Lock()
	defer t.mu.Unlock()

	totals := make(map[string]BoundaryTotals, len(t.observations))
	for name, obs := range t.observations {
		tot := BoundaryTotals{Crossings: len(obs)}
		for _, o := range obs {
			if o.Denied {
				tot.Denials++
			}
		}
		totals[name] = tot
	}
	return totals
}

// Status computes current health for a boundary against its target.
func (t *HealthTracker) Status(boundary string) (*BoundaryStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[boundary]
	if !ok {
		return nil, fmt.Errorf("no health target for boundary %q", boundary)
	}

	observations := t.observations[boundary]
	now := t.clock()
	windowStart := now.Add(-time.Duration(target.WindowHours) * time.Hour)

	// Filter to window
	var windowed []BoundaryObservation
	for _, obs := range observations {
		if obs.Timestamp.After(windowStart) {
			windowed = append(windowed, obs)
		}
	}

	if len(windowed) == 0 {
		return &BoundaryStatus{
			Boundary:         boundary,
			Healthy:          true,
			DenialBudgetLeft: 100.0,
			ObservationCount: 0,
		}, nil
	}

	// Compute denial rate
	deniedCount := 0
	for _, obs := range windowed {
		if obs.Denied {
			deniedCount++
		}
	}
	denialRate := float64(deniedCount) / float64(len(windowed))

	// Compute p99 latency (approximate)
	latencies := make([]float64, len(windowed))
	for i, obs := range windowed {
		latencies[i] = float64(obs.Latency.Milliseconds())
	}
	sort.Float64s(latencies)
	p99Index := int(float64(len(latencies)) * 0.99)
	if p99Index >= len(latencies) {
		p99Index = len(latencies) - 1
	}
	p99 := latencies[p99Index]

	// Check health
	latencyOK := p99 <= float64(target.LatencyP99.Milliseconds())
	denialsOK := denialRate <= target.MaxDenialRate
	healthy := latencyOK && denialsOK

	// Compute burn rate against the denial budget
	var burnRate float64
	budgetLeft := 100.0
	if target.MaxDenialRate > 0 {
		burnRate = denialRate / target.MaxDenialRate
		budgetLeft = 100.0 * (1.0 - burnRate)
	} else if denialRate > 0 {
		budgetLeft = 0
	}
	if budgetLeft < 0 {
		budgetLeft = 0
	}

	return &BoundaryStatus{
		Boundary:         boundary,
		CurrentP99:       p99,
		DenialRate:       denialRate,
		Healthy:          healthy,
		BurnRate:         burnRate,
		DenialBudgetLeft: budgetLeft,
		ObservationCount: len(windowed),
	}, nil
}
