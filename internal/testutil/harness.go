// Package testutil provides shared fixtures for framework-level tests: a fake clock,
// recording integrations, a SQLite-backed harness and domain assertions.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/Dicklesworthstone/hitl/internal/config"
	"github.com/Dicklesworthstone/hitl/internal/core"
	"github.com/Dicklesworthstone/hitl/internal/db"
	"github.com/Dicklesworthstone/hitl/internal/integrations"
	"github.com/charmbracelet/log"
)

// Harness is an isolated framework backed by a temp SQLite database.
type Harness struct {
	T        testing.TB
	Dir      string
	DBPath   string
	Config   config.Config
	Store    *db.DB
	FW       *core.Framework
	Clock    *Clock
	Executor *RecordingExecutor
	Notifier *RecordingNotifier
	Logs     *LogBuffer
	Logger   *StepLogger

	notifier integrations.Notifier
	ids      atomic.Int64
}

// HarnessOption customizes a harness before the framework is built.
type HarnessOption func(*Harness)

// WithConfig edits the default configuration.
func WithConfig(edit func(*config.Config)) HarnessOption {
	return func(h *Harness) { edit(&h.Config) }
}

// WithNotifier replaces the recording notifier with n. The recorder still receives calls.
func WithNotifier(n integrations.Notifier) HarnessOption {
	return func(h *Harness) { h.notifier = n }
}

// NewHarness builds a framework with default configuration, a fake clock at Epoch,
// recording integrations and a fresh database under t.TempDir.
func NewHarness(t testing.TB, opts ...HarnessOption) *Harness {
	t.Helper()

	dir := t.TempDir()
	h := &Harness{
		T:        t,
		Dir:      dir,
		DBPath:   filepath.Join(dir, "state.db"),
		Config:   config.DefaultConfig(),
		Clock:    NewClock(Epoch),
		Executor: &RecordingExecutor{},
		Notifier: &RecordingNotifier{},
		Logs:     NewLogBuffer(),
		Logger:   NewStepLogger(t),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.open()
	return h
}

func (h *Harness) open() {
	h.T.Helper()

	store, err := db.OpenAndMigrate(h.DBPath)
	if err != nil {
		h.T.Fatalf("open store: %v", err)
	}
	h.T.Cleanup(func() { store.Close() })

	notifier := integrations.Notifier(h.Notifier)
	if h.notifier != nil {
		notifier = integrations.MultiNotifier{h.Notifier, h.notifier}
	}
	logger := log.NewWithOptions(h.Logs, log.Options{Level: log.DebugLevel})

	fw, err := core.New(h.Config,
		core.WithStore(store),
		core.WithExecutor(h.Executor),
		core.WithNotifier(notifier),
		core.WithLogger(logger),
		core.WithClock(h.Clock.Now),
		core.WithIDGenerator(func() string { return fmt.Sprintf("dec-%03d", h.ids.Add(1)) }),
	)
	if err != nil {
		h.T.Fatalf("new framework: %v", err)
	}
	h.Store = store
	h.FW = fw
}

// Restart closes the database and rebuilds the framework from the persisted logs,
// as a fresh process would.
func (h *Harness) Restart() {
	h.T.Helper()
	h.Logger.Info("restarting framework from %s", h.DBPath)
	if err := h.Store.Close(); err != nil {
		h.T.Fatalf("close store: %v", err)
	}
	h.open()
	if err := h.FW.Restore(context.Background()); err != nil {
		h.T.Fatalf("restore: %v", err)
	}
	h.State()
}

// Step logs a numbered step.
func (h *Harness) Step(format string, args ...any) {
	h.T.Helper()
	h.Logger.Step(format, args...)
}

// State logs the current queue and trail sizes.
func (h *Harness) State() {
	h.Logger.QueueState(h.FW.Queue().Count(), h.FW.Trail().Len())
}

// Evaluate proposes an action and fails the test on error.
func (h *Harness) Evaluate(actionType string, attrs map[string]any, confidence float64) core.DecisionResult {
	h.T.Helper()
	res, err := h.FW.Evaluate(context.Background(), actionType, attrs, confidence)
	if err != nil {
		h.T.Fatalf("evaluate %s: %v", actionType, err)
	}
	h.Logger.Result("%s -> %s (%s, score %.4f)", actionType, res.Status, res.RiskLevel, res.RiskScore)
	return res
}

// Review approves or rejects and fails the test on error.
func (h *Harness) Review(id, operator string, approve bool, notes string) core.ReviewOutcome {
	h.T.Helper()
	out, err := h.FW.Review(context.Background(), id, operator, approve, notes)
	if err != nil {
		h.T.Fatalf("review %s: %v", id, err)
	}
	h.Logger.Result("%s by %s: applied=%t status=%s", id, operator, out.Applied, out.Status)
	return out
}

// Tick runs one escalation scan.
func (h *Harness) Tick() core.TickReport {
	h.T.Helper()
	r := h.FW.Escalation().Tick(context.Background())
	h.Logger.Result("tick at %s: %+v", h.Clock.Now().Format("15:04:05"), r)
	return r
}
