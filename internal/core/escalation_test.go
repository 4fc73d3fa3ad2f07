package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/hitl/internal/config"
	"github.com/Dicklesworthstone/hitl/internal/db"
	"github.com/Dicklesworthstone/hitl/internal/utils"
)

func newTestEscalation(tq *testQueue, cfg config.EscalationConfig, n *recordingNotifier) *EscalationManager {
	opts := EscalationOptions{Clock: tq.clock.Now, Logger: utils.NewDiscardLogger()}
	if n != nil {
		opts.Notifier = n
	}
	return NewEscalationManager(tq.q, cfg, opts)
}

func TestTick_ExpiresAfterSingleLevel(t *testing.T) {
	tq := newTestQueue(t)
	n := &recordingNotifier{}
	m := newTestEscalation(tq, singleLevelLadder(config.TerminalExpired, 1.2), n)
	ctx := context.Background()
	tq.enqueue(t, "d1", db.RiskCritical) // 5 minute SLA

	tq.clock.Advance(4 * time.Minute)
	if r := m.Tick(ctx); r.Escalated != 0 || r.Resolved != 0 {
		t.Fatalf("nothing is due yet: %+v", r)
	}

	tq.clock.Advance(90 * time.Second) // 5:30
	if r := m.Tick(ctx); r.Escalated != 1 {
		t.Fatalf("expected escalation at 5:30: %+v", r)
	}
	got, ok := tq.q.Get("d1")
	if !ok || got.Decision.Status != db.StatusEscalated || got.Decision.EscalationLevel != 1 {
		t.Fatalf("unexpected entry after escalation: %+v", got)
	}
	if want := testEpoch.Add(6 * time.Minute); !got.Deadline.Equal(want) {
		t.Errorf("level deadline = %v, want %v", got.Deadline, want)
	}
	if !got.Decision.SLADeadline.Equal(testEpoch.Add(5 * time.Minute)) {
		t.Errorf("original SLA deadline must never be reset")
	}
	if calls := n.Calls(); len(calls) != 1 || calls[0] != "d1:pager:1" {
		t.Errorf("notifications = %v", calls)
	}

	tq.clock.Advance(30 * time.Second) // 6:00
	if r := m.Tick(ctx); r.Resolved != 1 {
		t.Fatalf("expected expiry at 6:00: %+v", r)
	}
	if tq.q.Count() != 0 {
		t.Errorf("expired decision should leave the queue")
	}
	hist := tq.trail.History("d1")
	if n := countEvents(hist, "d1", db.EventExpired); n != 1 {
		t.Fatalf("expired entries = %d, want 1", n)
	}
	last := hist[len(hist)-1]
	if last.EventType != db.EventExpired || last.ToStatus != db.StatusExpired || last.Actor != db.ActorSystem {
		t.Errorf("unexpected final entry %+v", last)
	}
}

func TestTick_OneLevelPerTick(t *testing.T) {
	tq := newTestQueue(t)
	m := newTestEscalation(tq, config.DefaultConfig().Escalation, nil)
	ctx := context.Background()
	tq.enqueue(t, "d1", db.RiskHigh) // 15 minute SLA

	// A long outage: every level is long overdue.
	tq.clock.Advance(10 * time.Hour)
	for level := 1; level <= 3; level++ {
		r := m.Tick(ctx)
		if r.Escalated != 1 {
			t.Fatalf("tick %d: %+v", level, r)
		}
		got, _ := tq.q.Get("d1")
		if got.Decision.EscalationLevel != level {
			t.Fatalf("tick %d: level = %d", level, got.Decision.EscalationLevel)
		}
		if !got.Deadline.Equal(tq.clock.Now()) {
			t.Errorf("tick %d: a level deadline is never earlier than entry", level)
		}
	}
	if r := m.Tick(ctx); r.Resolved != 1 {
		t.Fatalf("final tick should expire: %+v", r)
	}
	hist := tq.trail.History("d1")
	if n := countEvents(hist, "d1", db.EventEscalated); n != 3 {
		t.Errorf("escalated entries = %d, want 3", n)
	}
	for i, e := range hist[1:4] {
		if e.EscalationLevel != i+1 {
			t.Errorf("escalation %d recorded level %d", i+1, e.EscalationLevel)
		}
	}
}

func TestTick_RepeatedScansEscalateOnce(t *testing.T) {
	tq := newTestQueue(t)
	m := newTestEscalation(tq, config.DefaultConfig().Escalation, nil)
	ctx := context.Background()
	tq.enqueue(t, "d1", db.RiskCritical)
	tq.clock.Advance(5 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Tick(ctx)
		}()
	}
	wg.Wait()

	hist := tq.trail.History("d1")
	if n := countEvents(hist, "d1", db.EventEscalated); n != 1 {
		t.Fatalf("escalated entries = %d, want exactly 1", n)
	}
	if n := countEvents(hist, "d1", db.EventTransitionRejected); n != 0 {
		t.Errorf("duplicate scans should not be audited, got %d refusals", n)
	}
}

func TestTick_RaceWithReview(t *testing.T) {
	for round := 0; round < 25; round++ {
		tq := newTestQueue(t)
		m := newTestEscalation(tq, singleLevelLadder(config.TerminalExpired, 1.0), nil)
		ctx := context.Background()
		tq.enqueue(t, "d1", db.RiskHigh)
		tq.clock.Advance(15 * time.Minute)
		m.Tick(ctx) // level 1, deadline now
		tq.clock.Advance(time.Second)

		var wg sync.WaitGroup
		var reviewErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Tick(ctx)
		}()
		go func() {
			defer wg.Done()
			_, reviewErr = tq.q.Approve(ctx, "d1", "alice", "")
		}()
		wg.Wait()

		if reviewErr != nil && !errors.Is(reviewErr, db.ErrInvalidTransition) {
			t.Fatalf("round %d: unexpected review error %v", round, reviewErr)
		}
		hist := tq.trail.History("d1")
		approved := countEvents(hist, "d1", db.EventApproved)
		expired := countEvents(hist, "d1", db.EventExpired)
		if approved+expired != 1 {
			t.Fatalf("round %d: approved=%d expired=%d, want exactly one resolution", round, approved, expired)
		}
		if (reviewErr == nil) != (approved == 1) {
			t.Fatalf("round %d: review result disagrees with the trail", round)
		}
		if int(tq.approved.Load()) != approved {
			t.Fatalf("round %d: executor hook ran %d times", round, tq.approved.Load())
		}
	}
}

func TestTick_TerminalActions(t *testing.T) {
	tests := []struct {
		name   string
		action string
		level  db.RiskLevel
		want   db.Status
		event  db.EventType
		execs  int32
	}{
		{"auto approve", config.TerminalAutoApprove, db.RiskHigh, db.StatusApproved, db.EventApproved, 1},
		{"auto approve critical downgrades", config.TerminalAutoApprove, db.RiskCritical, db.StatusExpired, db.EventExpired, 0},
		{"auto reject", config.TerminalAutoReject, db.RiskMedium, db.StatusRejected, db.EventRejected, 0},
		{"expired", config.TerminalExpired, db.RiskLow, db.StatusExpired, db.EventExpired, 0},
		{"no action on last level", config.TerminalNone, db.RiskLow, db.StatusExpired, db.EventExpired, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tq := newTestQueue(t)
			m := newTestEscalation(tq, singleLevelLadder(tc.action, 1.0), nil)
			ctx := context.Background()
			tq.enqueue(t, "d1", tc.level)

			tq.clock.Advance(2 * time.Hour)
			m.Tick(ctx)
			tq.clock.Advance(time.Second)
			if r := m.Tick(ctx); r.Resolved != 1 {
				t.Fatalf("expected resolution: %+v", r)
			}

			hist := tq.trail.History("d1")
			last := hist[len(hist)-1]
			if last.ToStatus != tc.want || last.EventType != tc.event || last.Actor != db.ActorSystem {
				t.Errorf("final entry = %+v", last)
			}
			if got := tq.approved.Load(); got != tc.execs {
				t.Errorf("executor hook ran %d times, want %d", got, tc.execs)
			}
		})
	}
}

func TestTick_NotificationFailureKeepsEscalation(t *testing.T) {
	tq := newTestQueue(t)
	n := &recordingNotifier{err: errors.New("smtp down")}
	m := newTestEscalation(tq, config.DefaultConfig().Escalation, n)
	tq.enqueue(t, "d1", db.RiskCritical)
	tq.clock.Advance(6 * time.Minute)

	r := m.Tick(context.Background())
	if r.Escalated != 1 {
		t.Fatalf("expected escalation despite notifier failure: %+v", r)
	}
	got, ok := tq.q.Get("d1")
	if !ok || got.Decision.Status != db.StatusEscalated {
		t.Errorf("escalation must stand: %+v", got)
	}
	if len(n.Calls()) != 1 {
		t.Errorf("notifier should have been called once")
	}
}

func TestLevelDeadline(t *testing.T) {
	cfg := config.DefaultConfig().Escalation
	cfg.AbsoluteCapMin = 40
	m := NewEscalationManager(nil, cfg, EscalationOptions{})

	d := db.Decision{CreatedAt: testEpoch, SLADeadline: testEpoch.Add(15 * time.Minute)}
	tests := []struct {
		name    string
		level   int
		entered time.Time
		want    time.Time
	}{
		{"multiplier", 1, testEpoch.Add(15 * time.Minute), testEpoch.Add(22*time.Minute + 30*time.Second)},
		{"second level", 2, testEpoch.Add(23 * time.Minute), testEpoch.Add(30 * time.Minute)},
		{"capped", 3, testEpoch.Add(31 * time.Minute), testEpoch.Add(40 * time.Minute)},
		{"never before entry", 1, testEpoch.Add(time.Hour), testEpoch.Add(time.Hour)},
		{"out of range", 9, testEpoch, testEpoch},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := m.LevelDeadline(d, tc.level, tc.entered); !got.Equal(tc.want) {
				t.Errorf("LevelDeadline = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	tq := newTestQueue(t)
	cfg := config.DefaultConfig().Escalation
	cfg.TickSecs = 1
	m := newTestEscalation(tq, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
