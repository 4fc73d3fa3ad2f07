package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dicklesworthstone/hitl/internal/integrations"
)

// Epoch is the default start time of a harness clock.
var Epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Notification is one recorded Notify call.
type Notification struct {
	Target  string
	Level   int
	Summary integrations.DecisionSummary
}

// RecordingNotifier records every notification and optionally fails them.
type RecordingNotifier struct {
	mu    sync.Mutex
	calls []Notification
	Err   error
}

// Notify implements integrations.Notifier.
func (n *RecordingNotifier) Notify(_ context.Context, target string, s integrations.DecisionSummary, level int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, Notification{Target: target, Level: level, Summary: s})
	return n.Err
}

// Calls returns the recorded notifications in order.
func (n *RecordingNotifier) Calls() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.calls...)
}

// Execution is one recorded Execute call.
type Execution struct {
	DecisionID string
	ActionType string
	Context    map[string]any
}

// RecordingExecutor records every execution and reports success.
type RecordingExecutor struct {
	mu    sync.Mutex
	calls []Execution
}

// Execute implements integrations.Executor.
func (e *RecordingExecutor) Execute(_ context.Context, decisionID, actionType string, c map[string]any) (integrations.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, Execution{DecisionID: decisionID, ActionType: actionType, Context: c})
	return integrations.ExecutionResult{Success: true, Details: fmt.Sprintf("ran %s", actionType)}, nil
}

// Calls returns the recorded executions in order.
func (e *RecordingExecutor) Calls() []Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Execution(nil), e.calls...)
}

// Count returns how many times decisionID was executed.
func (e *RecordingExecutor) Count(decisionID string) int {
	n := 0
	for _, c := range e.Calls() {
		if c.DecisionID == decisionID {
			n++
		}
	}
	return n
}
