package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dicklesworthstone/hitl/internal/config"
	"github.com/Dicklesworthstone/hitl/internal/db"
	"github.com/Dicklesworthstone/hitl/internal/integrations"
	"github.com/Dicklesworthstone/hitl/internal/utils"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testEpoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type testQueue struct {
	q        *DecisionQueue
	trail    *AuditTrail
	clock    *fakeClock
	approved atomic.Int32
}

func newTestQueue(t *testing.T) *testQueue {
	t.Helper()
	return newTestQueueWithStore(t, nil)
}

func newTestQueueWithStore(t *testing.T, store AuditStore) *testQueue {
	t.Helper()
	tq := &testQueue{clock: newFakeClock()}
	tq.trail = NewAuditTrail(store, tq.clock.Now)
	tq.q = NewDecisionQueue(tq.trail, config.DefaultConfig().SLA, QueueOptions{
		Clock:      tq.clock.Now,
		Logger:     utils.NewDiscardLogger(),
		OnApproved: func(context.Context, db.Decision) { tq.approved.Add(1) },
	})
	return tq
}

func pendingDecision(id string, level db.RiskLevel, created time.Time) db.Decision {
	return db.Decision{
		ID:              id,
		ActionType:      "isolate_host",
		Context:         map[string]any{"host": id},
		Confidence:      0.7,
		RiskScore:       0.5,
		RiskLevel:       level,
		AutomationLevel: db.AutomationAdvisory,
		Status:          db.StatusPending,
		CreatedAt:       created,
	}
}

func (tq *testQueue) enqueue(t *testing.T, id string, level db.RiskLevel) QueuedEntry {
	t.Helper()
	qe, err := tq.q.Enqueue(context.Background(), pendingDecision(id, level, tq.clock.Now()))
	if err != nil {
		t.Fatalf("Enqueue(%s) error = %v", id, err)
	}
	return qe
}

func countEvents(entries []db.AuditEntry, decisionID string, event db.EventType) int {
	n := 0
	for _, e := range entries {
		if e.DecisionID == decisionID && e.EventType == event {
			n++
		}
	}
	return n
}

func singleLevelLadder(action string, multiplier float64) config.EscalationConfig {
	return config.EscalationConfig{
		TickSecs: 30,
		Ladder: []config.LadderLevel{
			{Name: "oncall", Target: "pager", Multiplier: multiplier, TerminalAction: action},
		},
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, target string, s integrations.DecisionSummary, level int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, fmt.Sprintf("%s:%s:%d", s.DecisionID, target, level))
	return n.err
}

func (n *recordingNotifier) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

type recordingExecutor struct {
	mu    sync.Mutex
	calls []string
}

func (e *recordingExecutor) Execute(_ context.Context, decisionID, actionType string, _ map[string]any) (integrations.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, decisionID)
	return integrations.ExecutionResult{Success: true, Details: "ok " + actionType}, nil
}

func (e *recordingExecutor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// failingStore is an AuditStore whose writes fail.
type failingStore struct{}

var errStoreDown = errors.New("store unavailable")

func (failingStore) RecordTransition(context.Context, db.Transition, db.AuditEntry) (bool, error) {
	return false, errStoreDown
}
func (failingStore) RecordAudit(context.Context, db.AuditEntry) (bool, error) {
	return false, errStoreDown
}
func (failingStore) ListTransitions(context.Context) ([]db.Transition, error) { return nil, nil }
func (failingStore) ListAuditEntries(context.Context) ([]db.AuditEntry, error) {
	return nil, nil
}

// gatedStore holds every write until release is closed. written reports whether
// the store claims the row as new.
type gatedStore struct {
	entered chan struct{}
	release chan struct{}
	written bool
}

func newGatedStore(written bool) *gatedStore {
	return &gatedStore{entered: make(chan struct{}, 8), release: make(chan struct{}), written: written}
}

func (s *gatedStore) wait() bool {
	s.entered <- struct{}{}
	<-s.release
	return s.written
}

func (s *gatedStore) RecordTransition(context.Context, db.Transition, db.AuditEntry) (bool, error) {
	return s.wait(), nil
}
func (s *gatedStore) RecordAudit(context.Context, db.AuditEntry) (bool, error) {
	return s.wait(), nil
}
func (s *gatedStore) ListTransitions(context.Context) ([]db.Transition, error) { return nil, nil }
func (s *gatedStore) ListAuditEntries(context.Context) ([]db.AuditEntry, error) {
	return nil, nil
}
