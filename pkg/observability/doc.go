// Package observability provides OpenTelemetry tracing and metrics for the
// gatehouse kernel. It implements production-ready observability following
// cloud-native best practices.
//
// # Setup
//
// Initialize the provider at application startup:
//
//	provider, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "gatehouse",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//		Enabled:      true,
//	})
//	defer provider.Shutdown(ctx)
//
// # Instrumenting crossings
//
// Wrap each boundary crossing to get a span, the RED metrics, and a health
// observation:
//
//	ctx, finish := provider.TrackCrossing(ctx, "orders.create")
//	err := crossing.Run(ctx, c, body)
//	finish(err)
//
// Hand the provider to the orchestrator for per-gate and per-transition
// metrics; the kernel behaves identically with or without it:
//
//	c := crossing.New("orders.create", crossing.WithObserver(provider), ...)
//
// # Boundary health
//
// TrackCrossing feeds a per-boundary tracker even when telemetry export is
// disabled:
//
//	provider.Health().SetTarget(&observability.BoundaryTarget{
//		Boundary:      "orders.create",
//		LatencyP99:    250 * time.Millisecond,
//		MaxDenialRate: 0.05,
//		WindowHours:   1,
//	})
//	status, err := provider.Health().Status("orders.create")
package observability
