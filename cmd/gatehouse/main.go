// Command gatehouse boots the enforcement kernel, drives a scripted set of
// boundary crossings through the full gate pipeline, and verifies the
// resulting audit log through both independent evidence channels. With no
// environment set it runs entirely in memory; GATEHOUSE_DB_URL,
// GATEHOUSE_REDIS_ADDR and GATEHOUSE_ARCHIVE_BUCKET switch on the durable
// backends.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/Mindburn-Labs/gatehouse/pkg/approval"
	"github.com/Mindburn-Labs/gatehouse/pkg/claims"
	"github.com/Mindburn-Labs/gatehouse/pkg/config"
	"github.com/Mindburn-Labs/gatehouse/pkg/crossing"
	"github.com/Mindburn-Labs/gatehouse/pkg/gate"
	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
	"github.com/Mindburn-Labs/gatehouse/pkg/observability"
	"github.com/Mindburn-Labs/gatehouse/pkg/redact"
	"github.com/Mindburn-Labs/gatehouse/pkg/usage"
	"github.com/Mindburn-Labs/gatehouse/pkg/verify/evidence"
	verifytrace "github.com/Mindburn-Labs/gatehouse/pkg/verify/trace"
	"github.com/Mindburn-Labs/gatehouse/pkg/wal"
)

const demoBoundary = "orders.api"

func main() {
	ctx := context.Background()

	// 1. Configuration and logging.
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	// 2. Telemetry.
	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	if cfg.OTLPEndpoint != "" {
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	provider, err := observability.New(ctx, obsCfg)
	if err != nil {
		log.Fatalf("Failed to init telemetry: %v", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()
	provider.Health().SetTarget(&observability.BoundaryTarget{
		Boundary:      demoBoundary,
		LatencyP99:    250 * time.Millisecond,
		MaxDenialRate: 0.6,
		WindowHours:   1,
	})

	// 3. Registries.
	log.Println("[gatehouse] Loading manifest...")
	m := demoManifest()
	if cfg.ManifestPath != "" {
		if m, err = config.LoadManifest(cfg.ManifestPath); err != nil {
			log.Fatalf("Failed to load manifest: %v", err)
		}
	}
	regs := config.NewRegistries()
	if err := m.Apply(regs); err != nil {
		log.Fatalf("Failed to apply manifest: %v", err)
	}
	regs.Freeze()
	log.Printf("[gatehouse] Registries frozen: %d schemas, %d roles, %d budgets, %d predicates, %d contracts.\n",
		regs.Schemas.Len(), regs.Roles.Len(), regs.Budgets.Len(), regs.Predicates.Len(), regs.Contracts.Len())

	// 4. Audit log and usage stores.
	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open audit log: %v", err)
	}
	defer closeBackend()
	recorder := gate.NewRecorder(backend, redact.New())

	var (
		tracker     usage.Tracker
		marks       usage.MarkStore
		revocations claims.RevocationLookup
	)
	if cfg.RedisAddr != "" {
		tracker = usage.NewRedisTracker(cfg.RedisAddr, "", 0)
		marks = usage.NewRedisMarks(cfg.RedisAddr, "", 0, 24*time.Hour)
		revocations = claims.NewRedisRevocations(cfg.RedisAddr, "", 0)
		log.Printf("[gatehouse] Usage state on redis at %s.\n", cfg.RedisAddr)
	} else {
		tracker = usage.NewMemoryTracker()
		marks = usage.NewMemoryMarks(24 * time.Hour)
		revocations = claims.NewMemoryRevocations()
	}

	// 5. Approvals and caller identity.
	channel := approval.NewMemoryChannel()
	policy := approval.NewThresholdPolicy(0.75)

	key := []byte(cfg.JWTSecret)
	writer, err := mintIdentity("svc-order-writer", []string{"writer"}, key)
	if err != nil {
		log.Fatalf("Failed to mint writer token: %v", err)
	}
	reader, err := mintIdentity("svc-order-reader", []string{"reader"}, key)
	if err != nil {
		log.Fatalf("Failed to mint reader token: %v", err)
	}
	log.Printf("[gatehouse] Caller tokens minted and verified (HS256, tenant %s).\n", writer.TenantID)

	k := &kernel{
		regs:        regs,
		tracker:     tracker,
		marks:       marks,
		revocations: revocations,
		channel:     channel,
		policy:      policy,
		evaluator:   approval.StaticEvaluator{Value: 0.95},
		recorder:    recorder,
		provider:    provider,
		timeout:     cfg.ApprovalTimeout,
	}

	// 6. Scripted crossings.
	log.Println("[gatehouse] Running scripted crossings...")
	var traces []verifytrace.Trace
	record := func(id string, c *crossing.Context) {
		traces = append(traces, verifytrace.Trace{ID: id, States: stateNames(c.Trace())})
	}

	// A permitted write: every gate passes.
	c1, err := k.cross(ctx, writer, map[string]any{"name": "alpha widget", "qty": 3}, 1,
		"order created; confirmation sent to billing@acme.example")
	record("create-writer", c1)
	if err != nil {
		log.Fatalf("Writer crossing was denied: %v", err)
	}
	log.Printf("  create-writer: allowed (correlation %s)\n", c1.CorrelationID())

	// A reader lacks orders:write; the permission gate refuses.
	c2, err := k.cross(ctx, reader, map[string]any{"name": "beta widget", "qty": 2}, 1, "")
	record("create-reader", c2)
	if err == nil {
		log.Fatal("Reader crossing was allowed; permission enforcement is broken")
	}
	log.Printf("  create-reader: denied (%s)\n", codeOf(err))

	// A bulk request overruns the tenant budget; the bounds gate refuses.
	c3, err := k.cross(ctx, writer, map[string]any{"name": "bulk widgets", "qty": 500}, 5, "")
	record("create-bulk", c3)
	if err == nil {
		log.Fatal("Bulk crossing was allowed; bounds enforcement is broken")
	}
	log.Printf("  create-bulk: denied (%s)\n", codeOf(err))

	// A low-confidence operation stalls on review; a stand-in operator
	// approves it out of band.
	k.evaluator = approval.StaticEvaluator{Value: 0.40}
	go approveFirstPending(channel)
	c4, err := k.cross(ctx, writer, map[string]any{"name": "manual widget", "qty": 1}, 1,
		"order created after review")
	record("create-reviewed", c4)
	if err != nil {
		log.Fatalf("Reviewed crossing was denied: %v", err)
	}
	log.Printf("  create-reviewed: allowed after approval (correlation %s)\n", c4.CorrelationID())

	// 7. Audit log summary.
	entries, err := backend.List(ctx)
	if err != nil {
		log.Fatalf("Failed to list audit log: %v", err)
	}
	if err := wal.VerifyEntries(entries); err != nil {
		log.Fatalf("Audit chain is broken: %v", err)
	}
	log.Printf("[gatehouse] Audit chain verified (%d entries).\n", len(entries))
	for i := range entries {
		e := &entries[i]
		log.Printf("  seq=%d exit=%d error=%q result=%q\n", e.Sequence, e.ExitCode, e.ErrorCode, e.Result)
	}
	totals := provider.Health().Totals()
	for _, b := range provider.Health().Boundaries() {
		t := totals[b]
		log.Printf("  boundary %s: crossings=%d denials=%d\n", b, t.Crossings, t.Denials)
	}
	if st, err := provider.Health().Status(demoBoundary); err == nil {
		log.Printf("  health: p99=%.1fms denial_rate=%.2f burn=%.2f healthy=%t\n",
			st.CurrentP99, st.DenialRate, st.BurnRate, st.Healthy)
	}

	// 8. Cold archive.
	if cfg.ArchiveBucket != "" {
		arch, err := wal.NewS3Archive(ctx, wal.S3ArchiveConfig{
			Bucket:   cfg.ArchiveBucket,
			Region:   os.Getenv("AWS_REGION"),
			Endpoint: os.Getenv("GATEHOUSE_S3_ENDPOINT"),
		})
		if err != nil {
			log.Printf(">> Warning: archive unavailable: %v\n", err)
		} else if hash, n, err := wal.ArchiveSegment(ctx, backend, arch); err != nil {
			log.Printf(">> Warning: archive upload failed: %v\n", err)
		} else {
			log.Printf("[gatehouse] Archived %d entries as %s.\n", n, hash)
		}
	}

	// 9. Independent verification.
	log.Println("[gatehouse] Verifying evidence through both channels...")

	var buf bytes.Buffer
	if _, err := wal.ExportJSONL(ctx, backend, &buf); err != nil {
		log.Fatalf("Failed to export audit log: %v", err)
	}
	records, err := evidence.ParseJSONL(&buf)
	if err != nil {
		log.Fatalf("Exported audit log does not parse: %v", err)
	}

	violations := 0
	for _, v := range evidence.Check(records) {
		violations++
		log.Printf(">> Violation: %s\n", v)
	}
	for _, v := range verifytrace.Check(traces) {
		violations++
		log.Printf(">> Violation: %s\n", v)
	}
	if violations > 0 {
		log.Printf("[gatehouse] %d violation(s) found; exiting with %s.\n", violations, kernelerr.CodeVerification)
		_ = provider.Shutdown(context.Background())
		os.Exit(1)
	}
	log.Printf("[gatehouse] Both channels clean over %d records and %d traces. Done.\n", len(records), len(traces))
}

// kernel bundles the wired enforcement surfaces so every scripted
// crossing runs the same pipeline.
type kernel struct {
	regs        config.Registries
	tracker     usage.Tracker
	marks       usage.MarkStore
	revocations claims.RevocationLookup
	channel     approval.Channel
	policy      *approval.ThresholdPolicy
	evaluator   approval.ConfidenceEvaluator
	recorder    *gate.Recorder
	provider    *observability.Provider
	timeout     time.Duration
}

// cross drives one order through the full pipeline. The payload's qty is
// echoed into the body's output so the eval predicate sees it.
func (k *kernel) cross(ctx context.Context, caller *claims.Claims, payload map[string]any, amount int64, result string) (*crossing.Context, error) {
	c := crossing.New(demoBoundary,
		crossing.WithClaims(caller),
		crossing.WithContract("orders.v1", k.regs.Contracts),
		crossing.WithAuditor(k.recorder),
		crossing.WithObserver(k.provider),
		crossing.WithEntryGates(
			gate.Schema(k.regs.Schemas, "orders.create", payload),
			gate.Permission(k.regs.Roles, []string{"orders:write"}, gate.WithRevocations(k.revocations)),
			gate.Trace(),
			gate.Bounds(k.regs.Budgets, k.tracker, "orders", amount),
			gate.Idempotency(k.marks, payload),
			gate.HITL(k.evaluator, k.policy, k.channel, "orders.create", payload, gate.WithApprovalTimeout(k.timeout)),
		),
		crossing.WithExitGates(
			gate.Eval(k.regs.Predicates, "result.positive"),
			gate.Durability(k.recorder),
		),
	)

	tctx, finish := k.provider.TrackCrossing(ctx, demoBoundary)
	err := crossing.Run(tctx, c, func(context.Context) error {
		c.SetOutput(map[string]any{"status": "created", "qty": payload["qty"]})
		if result != "" {
			c.RecordResult(result)
		}
		return nil
	})
	finish(err)
	return c, err
}

// openBackend picks the audit store from the environment: Postgres for a
// postgres:// URL, SQLite for any other non-empty path, an in-memory
// sealed chain otherwise.
func openBackend(ctx context.Context, cfg *config.Config) (wal.Backend, func(), error) {
	switch {
	case strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://"):
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		backend := wal.NewPostgresBackend(db)
		if err := backend.Init(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Println("[gatehouse] Audit log on postgres.")
		return backend, func() { _ = db.Close() }, nil
	case cfg.DatabaseURL != "":
		backend, err := wal.NewSQLiteBackend(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[gatehouse] Audit log on sqlite at %s.\n", cfg.DatabaseURL)
		return backend, func() { _ = backend.Close() }, nil
	default:
		keys, err := wal.NewMemoryKeyProvider()
		if err != nil {
			return nil, nil, err
		}
		log.Println("[gatehouse] Audit log in memory (ed25519-sealed).")
		return wal.NewMemoryBackend(wal.WithSealer(wal.NewSealer(keys))), func() {}, nil
	}
}

// mintIdentity signs and immediately re-verifies a caller token, the same
// round trip an API front end performs.
func mintIdentity(subject string, roles []string, key []byte) (*claims.Claims, error) {
	token, err := claims.SignHS256(&claims.Claims{
		Subject:  subject,
		Roles:    roles,
		TenantID: "tenant-a",
		TokenID:  uuid.NewString(),
	}, key, 15*time.Minute)
	if err != nil {
		return nil, err
	}
	return claims.ParseHS256(token, key)
}

// approveFirstPending polls the channel and approves the first request it
// sees, standing in for a reviewer console.
func approveFirstPending(ch *approval.MemoryChannel) {
	for i := 0; i < 200; i++ {
		for _, req := range ch.Pending() {
			_ = ch.Resolve(req.RequestID, approval.ActionApprove, "ops-console", "verified manually")
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// demoManifest is the built-in bootstrap set used when GATEHOUSE_MANIFEST
// is not set. The budget is deliberately small so the scripted bulk
// request overruns it.
func demoManifest() *config.Manifest {
	return &config.Manifest{
		Schemas: []config.SchemaConfig{{
			ID: "orders.create",
			Schema: `{
				"type": "object",
				"required": ["name", "qty"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"qty": {"type": "integer", "minimum": 1}
				},
				"additionalProperties": false
			}`,
		}},
		Roles: []config.RoleConfig{
			{Role: "reader", Permissions: []string{"orders:read"}},
			{Role: "writer", Permissions: []string{"orders:read", "orders:write"}},
		},
		Budgets: []config.BudgetConfig{
			{Tenant: "tenant-a", Resource: "orders", Limit: 3},
		},
		Predicates: []config.PredicateConfig{
			{ID: "result.positive", CEL: "output.qty > 0.0"},
		},
		Contracts: []config.ContractConfig{
			{ID: "orders.v1", Name: "Order intake", Version: "1.2.0", SchemaID: "orders.create", TTL: "24h"},
		},
	}
}

func stateNames(states []crossing.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

func codeOf(err error) kernelerr.Code {
	if code, ok := kernelerr.CodeOf(err); ok {
		return code
	}
	return kernelerr.CodeUnclassified
}
