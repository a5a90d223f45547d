package observability

import (
	"testing"
	"time"
)

func TestHealthSetTarget(t *testing.T) {
	tracker := NewHealthTracker()
	tracker.SetTarget(&BoundaryTarget{
		Boundary:      "orders.create",
		LatencyP99:    500 * time.Millisecond,
		MaxDenialRate: 0.01,
		WindowHours:   24,
	})

	status, err := tracker.Status("orders.create")
	if err != nil {
		t.Fatal(err)
	}
	if !status.Healthy {
		t.Fatal("expected healthy with no observations")
	}
}

func TestHealthHealthyBoundary(t *testing.T) {
	tracker := NewHealthTracker()
	tracker.SetTarget(&BoundaryTarget{
		Boundary:      "orders.create",
		LatencyP99:    1000 * time.Millisecond,
		MaxDenialRate: 0.05,
		WindowHours:   1,
	})

	// 100 allowed crossings under the latency target
	for i := 0; i < 100; i++ {
		tracker.Record(BoundaryObservation{Boundary: "orders.create", Latency: 100 * time.Millisecond})
	}

	status, _ := tracker.Status("orders.create")
	if !status.Healthy {
		t.Fatal("expected healthy")
	}
	if status.DenialRate != 0.0 {
		t.Fatalf("expected zero denial rate, got %.2f", status.DenialRate)
	}
}

func TestHealthDenialSpike(t *testing.T) {
	tracker := NewHealthTracker()
	tracker.SetTarget(&BoundaryTarget{
		Boundary:      "orders.delete",
		LatencyP99:    500 * time.Millisecond,
		MaxDenialRate: 0.01,
		WindowHours:   1,
	})

	// 90 allowed + 10 denied = 10% denials (above the 1% budget)
	for i := 0; i < 90; i++ {
		tracker.Record(BoundaryObservation{Boundary: "orders.delete", Latency: 100 * time.Millisecond})
	}
	for i := 0; i < 10; i++ {
		tracker.Record(BoundaryObservation{Boundary: "orders.delete", Latency: 100 * time.Millisecond, Denied: true})
	}

	status, _ := tracker.Status("orders.delete")
	if status.Healthy {
		t.Fatal("expected unhealthy")
	}
}

func TestHealthBurnRate(t *testing.T) {
	tracker := NewHealthTracker()
	tracker.SetTarget(&BoundaryTarget{
		Boundary:      "payments.refund",
		LatencyP99:    1000 * time.Millisecond,
		MaxDenialRate: 0.01, // 1% denial budget
		WindowHours:   1,
	})

	// 5% denial rate → burn rate = 5x
	for i := 0; i < 95; i++ {
		tracker.Record(BoundaryObservation{Boundary: "payments.refund", Latency: 10 * time.Millisecond})
	}
	for i := 0; i < 5; i++ {
		tracker.Record(BoundaryObservation{Boundary: "payments.refund", Latency: 10 * time.Millisecond, Denied: true})
	}

	status, _ := tracker.Status("payments.refund")
	if status.BurnRate < 4.0 {
		t.Fatalf("expected high burn rate, got %.2f", status.BurnRate)
	}
	if status.DenialBudgetLeft != 0 {
		t.Fatalf("expected exhausted denial budget, got %.2f", status.DenialBudgetLeft)
	}
}

func TestHealthLatencyBreach(t *testing.T) {
	tracker := NewHealthTracker()
	tracker.SetTarget(&BoundaryTarget{
		Boundary:      "orders.create",
		LatencyP99:    50 * time.Millisecond,
		MaxDenialRate: 0.05,
		WindowHours:   1,
	})

	// No denials, but every crossing is slower than the p99 target
	for i := 0; i < 20; i++ {
		tracker.Record(BoundaryObservation{Boundary: "orders.create", Latency: 200 * time.Millisecond})
	}

	status, _ := tracker.Status("orders.create")
	if status.Healthy {
		t.Fatal("expected unhealthy on latency alone")
	}
	if status.DenialRate != 0.0 {
		t.Fatalf("expected zero denial rate, got %.2f", status.DenialRate)
	}
}

func TestHealthWindowExcludesOldObservations(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewHealthTracker().WithClock(func() time.Time { return now })
	tracker.SetTarget(&BoundaryTarget{
		Boundary:      "orders.create",
		LatencyP99:    500 * time.Millisecond,
		MaxDenialRate: 0.01,
		WindowHours:   1,
	})

	// Denials from two hours ago fall outside the one-hour window
	stale := now.Add(-2 * time.Hour)
	for i := 0; i < 10; i++ {
		tracker.Record(BoundaryObservation{Boundary: "orders.create", Latency: time.Millisecond, Denied: true, Timestamp: stale})
	}
	tracker.Record(BoundaryObservation{Boundary: "orders.create", Latency: time.Millisecond, Timestamp: now.Add(-time.Minute)})

	status, _ := tracker.Status("orders.create")
	if !status.Healthy {
		t.Fatal("expected healthy once stale denials age out")
	}
	if status.ObservationCount != 1 {
		t.Fatalf("expected 1 windowed observation, got %d", status.ObservationCount)
	}
}

func TestHealthNoTarget(t *testing.T) {
	tracker := NewHealthTracker()
	_, err := tracker.Status("nonexistent")
	if err == nil {
		t.Fatal("expected error for missing target")
	}
}

func TestHealthTotals(t *testing.T) {
	tracker := NewHealthTracker()
	tracker.Record(BoundaryObservation{Boundary: "orders.create", Latency: time.Millisecond})
	tracker.Record(BoundaryObservation{Boundary: "orders.create", Latency: time.Millisecond, Denied: true})
	tracker.Record(BoundaryObservation{Boundary: "payments.refund", Latency: time.Millisecond})

	totals := tracker.Totals()
	if totals["orders.create"].Crossings != 2 || totals["orders.create"].Denials != 1 {
		t.Fatalf("unexpected totals for orders.create: %+v", totals["orders.create"])
	}
	if totals["payments.refund"].Crossings != 1 || totals["payments.refund"].Denials != 0 {
		t.Fatalf("unexpected totals for payments.refund: %+v", totals["payments.refund"])
	}

	boundaries := tracker.Boundaries()
	if len(boundaries) != 2 || boundaries[0] != "orders.create" || boundaries[1] != "payments.refund" {
		t.Fatalf("unexpected boundaries: %v", boundaries)
	}
}
