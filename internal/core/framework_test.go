package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dicklesworthstone/hitl/internal/config"
	"github.com/Dicklesworthstone/hitl/internal/db"
	"github.com/Dicklesworthstone/hitl/internal/utils"
)

type frameworkFixture struct {
	f     *Framework
	clock *fakeClock
	exec  *recordingExecutor
	store *db.DB
}

func newTestFramework(t *testing.T, cfg config.Config, store *db.DB, clock *fakeClock) *frameworkFixture {
	t.Helper()
	if clock == nil {
		clock = newFakeClock()
	}
	var seq atomic.Int64
	fx := &frameworkFixture{clock: clock, exec: &recordingExecutor{}, store: store}
	opts := []Option{
		WithClock(clock.Now),
		WithExecutor(fx.exec),
		WithLogger(utils.NewDiscardLogger()),
		WithIDGenerator(func() string { return fmt.Sprintf("dec-%03d", seq.Add(1)) }),
	}
	if store != nil {
		opts = append(opts, WithStore(store))
	}
	f, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	fx.f = f
	return fx
}

func openTestStore(t *testing.T, path string) *db.DB {
	t.Helper()
	store, err := db.OpenAndMigrate(path)
	if err != nil {
		t.Fatalf("OpenAndMigrate(%s) error = %v", path, err)
	}
	return store
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Escalation.Ladder = nil
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected config validation error")
	}
}

func TestEvaluate_AutoExecutesLowRisk(t *testing.T) {
	fx := newTestFramework(t, config.DefaultConfig(), nil, nil)
	res, err := fx.f.Evaluate(context.Background(), "block_ip", map[string]any{"ip": "203.0.113.9"}, 0.97)
	if err != nil {
		t.Fatalf("Evaluate error = %v", err)
	}
	if res.Status != db.StatusAutoExecuted || res.AutomationLevel != db.AutomationFull || res.RiskLevel != db.RiskLow {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Execution == nil || !res.Execution.Success {
		t.Errorf("expected a successful execution result, got %+v", res.Execution)
	}
	if calls := fx.exec.Calls(); len(calls) != 1 || calls[0] != res.DecisionID {
		t.Errorf("executor calls = %v", calls)
	}
	hist := fx.f.Trail().History(res.DecisionID)
	if len(hist) != 1 || hist[0].EventType != db.EventAutoExecuted || hist[0].Context["ip"] != "203.0.113.9" {
		t.Errorf("unexpected history %+v", hist)
	}
	if fx.f.Queue().Count() != 0 {
		t.Errorf("auto-executed decisions never enter the queue")
	}
}

func TestEvaluate_QueuesCriticalRisk(t *testing.T) {
	fx := newTestFramework(t, config.DefaultConfig(), nil, nil)
	res, err := fx.f.Evaluate(context.Background(), "delete_data", map[string]any{"dataset": "customers"}, 0.75)
	if err != nil {
		t.Fatalf("Evaluate error = %v", err)
	}
	if res.RiskLevel != db.RiskCritical && res.RiskLevel != db.RiskHigh {
		t.Errorf("risk level = %s", res.RiskLevel)
	}
	if res.AutomationLevel != db.AutomationManual || res.Status != db.StatusQueued {
		t.Errorf("unexpected result %+v", res)
	}
	sla := res.SLADeadline.Sub(testEpoch)
	if sla < 5*time.Minute || sla > 15*time.Minute {
		t.Errorf("sla = %v, want 5-15 minutes", sla)
	}
	if len(fx.exec.Calls()) != 0 {
		t.Errorf("queued decisions must not execute")
	}
	pending := fx.f.ListPending("anyone")
	if len(pending) != 1 || pending[0].Decision.ID != res.DecisionID {
		t.Errorf("ListPending = %+v", pending)
	}
}

func TestEvaluate_ValidationLeavesNoTrace(t *testing.T) {
	fx := newTestFramework(t, config.DefaultConfig(), nil, nil)
	_, err := fx.f.Evaluate(context.Background(), "block_ip", map[string]any{"nested": map[string]any{}}, 0.9)
	if !errors.Is(err, db.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if fx.f.Trail().Len() != 0 || fx.f.Queue().Count() != 0 {
		t.Errorf("rejected input must not be recorded")
	}
}

func TestReview_ExecutesApprovedOnce(t *testing.T) {
	fx := newTestFramework(t, config.DefaultConfig(), nil, nil)
	ctx := context.Background()
	res, err := fx.f.Evaluate(ctx, "isolate_host", map[string]any{"host": "db-7"}, 0.7)
	if err != nil {
		t.Fatalf("Evaluate error = %v", err)
	}
	if res.Status != db.StatusQueued {
		t.Fatalf("expected queued, got %s", res.Status)
	}

	out, err := fx.f.Review(ctx, res.DecisionID, "alice", true, "")
	if err != nil || !out.Applied {
		t.Fatalf("Review = %+v, %v", out, err)
	}
	out, err = fx.f.Review(ctx, res.DecisionID, "bob", true, "")
	if err != nil || out.Applied {
		t.Fatalf("second Review = %+v, %v", out, err)
	}
	if calls := fx.exec.Calls(); len(calls) != 1 {
		t.Errorf("executor called %d times, want 1", len(calls))
	}
}

func TestScenario_ExpiresWithoutOperator(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Escalation = singleLevelLadder(config.TerminalExpired, 1.2)
	fx := newTestFramework(t, cfg, nil, nil)
	ctx := context.Background()

	res, err := fx.f.Evaluate(ctx, "delete_data", nil, 0.75)
	if err != nil {
		t.Fatalf("Evaluate error = %v", err)
	}
	if got := res.SLADeadline.Sub(testEpoch); got != 5*time.Minute {
		t.Fatalf("sla = %v, want 5m", got)
	}

	for elapsed := 30 * time.Second; elapsed <= 6*time.Minute; elapsed += 30 * time.Second {
		fx.clock.Set(testEpoch.Add(elapsed))
		fx.f.Escalation().Tick(ctx)
	}

	if fx.f.Queue().Count() != 0 {
		t.Fatalf("decision should have left the queue")
	}
	hist := fx.f.Trail().History(res.DecisionID)
	last := hist[len(hist)-1]
	if last.EventType != db.EventExpired || last.ToStatus != db.StatusExpired {
		t.Errorf("final entry = %+v", last)
	}
	if countEvents(hist, res.DecisionID, db.EventEscalated) != 1 {
		t.Errorf("expected exactly one escalation before expiry: %+v", hist)
	}
}

func TestQueryCountMatchesSuccessfulMutations(t *testing.T) {
	fx := newTestFramework(t, config.DefaultConfig(), nil, nil)
	ctx := context.Background()
	mutations := 0

	mustEval := func(action string, confidence float64) DecisionResult {
		res, err := fx.f.Evaluate(ctx, action, nil, confidence)
		if err != nil {
			t.Fatalf("Evaluate error = %v", err)
		}
		mutations++
		return res
	}
	mustEval("block_ip", 0.99)
	a := mustEval("isolate_host", 0.7)
	b := mustEval("restart_service", 0.7)
	c := mustEval("delete_data", 0.5)

	fx.clock.Advance(time.Minute)
	if _, err := fx.f.Assign(ctx, a.DecisionID, "alice"); err != nil {
		t.Fatalf("Assign error = %v", err)
	}
	mutations++
	if _, err := fx.f.Review(ctx, a.DecisionID, "alice", true, ""); err != nil {
		t.Fatalf("Review error = %v", err)
	}
	mutations++
	if _, err := fx.f.Review(ctx, b.DecisionID, "alice", false, "not now"); err != nil {
		t.Fatalf("Review error = %v", err)
	}
	mutations++

	fx.clock.Advance(6 * time.Minute)
	r := fx.f.Escalation().Tick(ctx)
	mutations += r.Escalated + r.Resolved
	if r.Escalated != 1 {
		t.Fatalf("expected the critical decision %s to escalate: %+v", c.DecisionID, r)
	}

	all := fx.f.Query(AuditFilter{})
	if len(all) != mutations {
		t.Errorf("Query() = %d entries, want %d", len(all), mutations)
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Fatalf("entries out of order at %d", i)
		}
	}
}

func TestRestore_ReplaysIdenticalSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hitl.db")
	ctx := context.Background()
	clock := newFakeClock()

	store := openTestStore(t, path)
	fx := newTestFramework(t, config.DefaultConfig(), store, clock)

	var ids []string
	for _, tc := range []struct {
		action     string
		confidence float64
		attrs      map[string]any
	}{
		{"delete_data", 0.75, map[string]any{"dataset": "orders", "rows": 1200, "regulation": "gdpr"}},
		{"isolate_host", 0.7, map[string]any{"host": "web-01"}},
		{"restart_service", 0.7, map[string]any{"service": "api", "canary": true}},
		{"revoke_credentials", 0.65, nil},
		{"block_ip", 0.99, map[string]any{"ip": "198.51.100.4"}},
	} {
		res, err := fx.f.Evaluate(ctx, tc.action, tc.attrs, tc.confidence)
		if err != nil {
			t.Fatalf("Evaluate(%s) error = %v", tc.action, err)
		}
		ids = append(ids, res.DecisionID)
		clock.Advance(10 * time.Second)
	}
	if _, err := fx.f.Assign(ctx, ids[1], "alice"); err != nil {
		t.Fatalf("Assign error = %v", err)
	}
	if _, err := fx.f.Review(ctx, ids[2], "bob", true, "ok"); err != nil {
		t.Fatalf("Review error = %v", err)
	}
	clock.Advance(6 * time.Minute)
	fx.f.Escalation().Tick(ctx)

	before := fx.f.Queue().Snapshot()
	beforeAudit := fx.f.Query(AuditFilter{})
	if len(before) != 3 {
		t.Fatalf("expected 3 live entries before restart, got %d", len(before))
	}
	escalated := false
	for _, e := range before {
		if e.Decision.Status == db.StatusEscalated {
			escalated = true
		}
	}
	if !escalated {
		t.Fatalf("fixture should include an escalated entry")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	reopened := openTestStore(t, path)
	defer reopened.Close()
	restarted := newTestFramework(t, config.DefaultConfig(), reopened, clock)
	if err := restarted.f.Restore(ctx); err != nil {
		t.Fatalf("Restore error = %v", err)
	}

	after := restarted.f.Queue().Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("snapshot mismatch after replay\nbefore: %+v\nafter:  %+v", before, after)
	}
	if afterAudit := restarted.f.Query(AuditFilter{}); !reflect.DeepEqual(beforeAudit, afterAudit) {
		t.Fatalf("audit trail mismatch after replay")
	}

	// The restored state keeps working: resolved ids stay resolved, live ones can be reviewed.
	if _, err := restarted.f.Queue().Approve(ctx, ids[2], "bob", ""); !errors.Is(err, db.ErrInvalidTransition) {
		t.Errorf("approving an already approved decision: got %v", err)
	}
	if out, err := restarted.f.Review(ctx, ids[1], "alice", false, "false positive"); err != nil || !out.Applied {
		t.Errorf("Review after restore = %+v, %v", out, err)
	}
	if err := restarted.f.Restore(ctx); !errors.Is(err, ErrStateNotEmpty) {
		t.Errorf("second Restore: expected ErrStateNotEmpty, got %v", err)
	}
}

func TestRestore_RequiresStore(t *testing.T) {
	fx := newTestFramework(t, config.DefaultConfig(), nil, nil)
	if err := fx.f.Restore(context.Background()); err == nil {
		t.Fatalf("expected error without a store")
	}
}

func TestSharedStore_StaleWriterLosesToResolution(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()
	clock := newFakeClock()

	storeA := openTestStore(t, path)
	defer storeA.Close()
	a := newTestFramework(t, config.DefaultConfig(), storeA, clock)
	if err := a.f.Restore(ctx); err != nil {
		t.Fatalf("Restore(a) error = %v", err)
	}
	res, err := a.f.Evaluate(ctx, "delete_data", map[string]any{"dataset": "orders"}, 0.75)
	if err != nil {
		t.Fatalf("Evaluate error = %v", err)
	}
	if res.Status != db.StatusQueued {
		t.Fatalf("expected queued, got %s", res.Status)
	}

	// A second process on the same file, like a one-shot approve next to a running scanner.
	storeB := openTestStore(t, path)
	defer storeB.Close()
	b := newTestFramework(t, config.DefaultConfig(), storeB, clock)
	if err := b.f.Restore(ctx); err != nil {
		t.Fatalf("Restore(b) error = %v", err)
	}

	lost := 0
	for elapsed := 30 * time.Second; elapsed <= 20*time.Minute; elapsed += 30 * time.Second {
		clock.Set(testEpoch.Add(elapsed))
		if elapsed == 2*time.Minute {
			out, err := b.f.Review(ctx, res.DecisionID, "alice", true, "")
			if err != nil || !out.Applied {
				t.Fatalf("Review(b) = %+v, %v", out, err)
			}
		}
		r := a.f.Escalation().Tick(ctx)
		lost += r.Lost
		if r.Escalated != 0 || r.Resolved != 0 || r.Failed != 0 {
			t.Fatalf("stale scanner changed a resolved decision at %v: %+v", elapsed, r)
		}
	}
	if lost != 1 {
		t.Errorf("expected the stale scanner to lose exactly once, got %d", lost)
	}
	if a.f.Queue().Count() != 0 {
		t.Errorf("stale scanner should retire the overtaken decision")
	}

	out, err := a.f.Review(ctx, res.DecisionID, "bob", false, "")
	if err != nil || out.Applied {
		t.Errorf("stale Review = %+v, %v", out, err)
	}
	if calls := b.exec.Calls(); len(calls) != 1 {
		t.Errorf("executor ran %d times in b, want 1", len(calls))
	}
	if calls := a.exec.Calls(); len(calls) != 0 {
		t.Errorf("executor ran %d times in a, want 0", len(calls))
	}

	transitions, err := storeA.ListTransitions(ctx)
	if err != nil {
		t.Fatalf("ListTransitions error = %v", err)
	}
	terminal := 0
	for _, tr := range transitions {
		if tr.DecisionID == res.DecisionID && tr.To.IsTerminal() {
			terminal++
		}
	}
	if len(transitions) != 2 || terminal != 1 {
		t.Fatalf("persisted log should hold queued then approved, got %+v", transitions)
	}

	replayed := newTestFramework(t, config.DefaultConfig(), storeA, clock)
	if err := replayed.f.Restore(ctx); err != nil {
		t.Fatalf("Restore(replay) error = %v", err)
	}
	if d, ok := replayed.f.Trail().Latest(res.DecisionID); !ok || d.Status != db.StatusApproved {
		t.Errorf("replayed status = %+v, %v", d.Status, ok)
	}
	if replayed.f.Queue().Count() != 0 {
		t.Errorf("replayed queue should be empty")
	}
	rejected := replayed.f.Query(AuditFilter{DecisionID: res.DecisionID, EventTypes: []db.EventType{db.EventTransitionRejected}})
	if len(rejected) != 2 {
		t.Errorf("expected the lost escalation and the stale review to be audited, got %+v", rejected)
	}
}

func TestSharedStore_DuplicateIDAcrossWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()
	clock := newFakeClock()

	storeA := openTestStore(t, path)
	defer storeA.Close()
	storeB := openTestStore(t, path)
	defer storeB.Close()
	a := newTestFramework(t, config.DefaultConfig(), storeA, clock)
	b := newTestFramework(t, config.DefaultConfig(), storeB, clock)

	// Both generators start at dec-001, and neither trail has seen the other's writes.
	for _, action := range []string{"isolate_host", "delete_data"} {
		if _, err := a.f.Evaluate(ctx, action, nil, 0.7); err != nil {
			t.Fatalf("Evaluate(a, %s) error = %v", action, err)
		}
	}
	_, err := b.f.Evaluate(ctx, "block_ip", nil, 0.99)
	var dup *db.DuplicateDecisionError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateDecisionError, got %v", err)
	}
	if calls := b.exec.Calls(); len(calls) != 0 {
		t.Errorf("refused auto-execution must not run the executor, got %v", calls)
	}
	if _, err := b.f.Evaluate(ctx, "restart_service", nil, 0.7); !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateDecisionError on enqueue, got %v", err)
	}
}
