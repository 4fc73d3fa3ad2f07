package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/Dicklesworthstone/hitl/internal/db"
	"github.com/charmbracelet/log"
)

func testDecision() db.Decision {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return db.Decision{
		ID:              "dec-1",
		ActionType:      "isolate_host",
		Context:         map[string]any{"host": "web-01", "regulation": "pci"},
		Confidence:      0.7,
		RiskScore:       0.55,
		RiskLevel:       db.RiskHigh,
		AutomationLevel: db.AutomationAdvisory,
		Status:          db.StatusEscalated,
		CreatedAt:       now,
		SLADeadline:     now.Add(15 * time.Minute),
		EscalationLevel: 1,
		LevelDeadline:   now.Add(22 * time.Minute),
	}
}

func TestSummaryOf(t *testing.T) {
	d := testDecision()
	s := SummaryOf(d, "team_lead", false)
	if s.Context != nil {
		t.Errorf("context should be omitted, got %v", s.Context)
	}
	if s.DecisionID != d.ID || s.LevelName != "team_lead" || !s.LevelDeadline.Equal(d.LevelDeadline) {
		t.Errorf("unexpected summary: %+v", s)
	}

	s = SummaryOf(d, "team_lead", true)
	if s.Context["host"] != "web-01" {
		t.Errorf("context should be included, got %v", s.Context)
	}
	s.Context["host"] = "mutated"
	if d.Context["host"] != "web-01" {
		t.Errorf("summary context must be a copy")
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	if err := n.Notify(context.Background(), "manager", SummaryOf(testDecision(), "manager", false), 2); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if got.Event != "decision.escalated" || got.Target != "manager" || got.Level != 2 {
		t.Errorf("unexpected payload: %+v", got)
	}
	if got.Decision.DecisionID != "dec-1" {
		t.Errorf("payload decision id = %q", got.Decision.DecisionID)
	}
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	err := n.Notify(context.Background(), "manager", SummaryOf(testDecision(), "", false), 1)
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})
	n := LogNotifier{Logger: logger}
	if err := n.Notify(context.Background(), "director", SummaryOf(testDecision(), "director", false), 3); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"decision escalated", "director", "dec-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
	if err := (LogNotifier{}).Notify(context.Background(), "x", DecisionSummary{}, 1); err != nil {
		t.Errorf("nil logger should be a no-op, got %v", err)
	}
}

func TestMultiNotifier(t *testing.T) {
	boom := errors.New("boom")
	var calls []string
	m := MultiNotifier{
		NotifierFunc(func(_ context.Context, target string, _ DecisionSummary, _ int) error {
			calls = append(calls, "first:"+target)
			return boom
		}),
		NoopNotifier{},
		NotifierFunc(func(_ context.Context, target string, _ DecisionSummary, _ int) error {
			calls = append(calls, "third:"+target)
			return nil
		}),
	}
	err := m.Notify(context.Background(), "lead", DecisionSummary{}, 1)
	if !errors.Is(err, boom) {
		t.Errorf("expected first error, got %v", err)
	}
	if len(calls) != 2 || calls[1] != "third:lead" {
		t.Errorf("every notifier should be called, got %v", calls)
	}
}

func TestNoopExecutor(t *testing.T) {
	res, err := NoopExecutor{}.Execute(context.Background(), "dec-1", "block_ip", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Success {
		t.Errorf("noop executor must not report success")
	}
}

func TestCommandExecutor(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	e := &CommandExecutor{
		Commands: map[string]string{
			"block_ip": `sh -c 'printf "%s %s %s" "$HITL_DECISION_ID" "$HITL_ACTION_TYPE" "$HITL_CTX_SOURCE_IP"'`,
			"fail":     `sh -c 'echo nope >&2; exit 3'`,
		},
		Timeout: 5 * time.Second,
	}

	res, err := e.Execute(context.Background(), "dec-9", "block_ip", map[string]any{"source-ip": "10.0.0.1"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Details != "dec-9 block_ip 10.0.0.1" {
		t.Errorf("details = %q", res.Details)
	}

	res, err = e.Execute(context.Background(), "dec-9", "fail", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Success || !strings.Contains(res.Details, "nope") {
		t.Errorf("expected failed result with stderr, got %+v", res)
	}

	res, err = e.Execute(context.Background(), "dec-9", "unknown", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Success || !strings.Contains(res.Details, "no command configured") {
		t.Errorf("unknown action should not run, got %+v", res)
	}
}

func TestCommandExecutor_ParseError(t *testing.T) {
	e := &CommandExecutor{Commands: map[string]string{"x": `echo "unterminated`}}
	if _, err := e.Execute(context.Background(), "d", "x", nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCommandEnv(t *testing.T) {
	env := commandEnv("d1", "block_ip", map[string]any{"b.key": 2.5, "a": true, "n": nil})
	want := []string{
		"HITL_DECISION_ID=d1",
		"HITL_ACTION_TYPE=block_ip",
		"HITL_CTX_A=true",
		"HITL_CTX_B_KEY=2.5",
		"HITL_CTX_N=",
	}
	if strings.Join(env, "|") != strings.Join(want, "|") {
		t.Errorf("env = %v, want %v", env, want)
	}
}
