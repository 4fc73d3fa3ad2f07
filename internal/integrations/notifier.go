// Package integrations defines the outbound collaborator boundaries of the decision
// framework (notifier and executor) and the adapters shipped with hitl.
package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"time"

	"github.com/Dicklesworthstone/hitl/internal/db"
	"github.com/charmbracelet/log"
)

// DecisionSummary is what a notification target sees about a decision.
type DecisionSummary struct {
	DecisionID    string         `json:"decision_id"`
	ActionType    string         `json:"action_type"`
	RiskLevel     db.RiskLevel   `json:"risk_level"`
	RiskScore     float64        `json:"risk_score"`
	Confidence    float64        `json:"confidence"`
	Status        db.Status      `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	SLADeadline   time.Time      `json:"sla_deadline"`
	LevelName     string         `json:"level_name,omitempty"`
	LevelDeadline time.Time      `json:"level_deadline"`
	Context       map[string]any `json:"context,omitempty"`
}

// SummaryOf builds the notification summary for d.
func SummaryOf(d db.Decision, levelName string, includeContext bool) DecisionSummary {
	s := DecisionSummary{
		DecisionID:    d.ID,
		ActionType:    d.ActionType,
		RiskLevel:     d.RiskLevel,
		RiskScore:     d.RiskScore,
		Confidence:    d.Confidence,
		Status:        d.Status,
		CreatedAt:     d.CreatedAt,
		SLADeadline:   d.SLADeadline,
		LevelName:     levelName,
		LevelDeadline: d.LevelDeadline,
	}
	if includeContext {
		s.Context = maps.Clone(d.Context)
	}
	return s
}

// Notifier delivers escalation notices to a responsibility level's target.
type Notifier interface {
	Notify(ctx context.Context, target string, summary DecisionSummary, level int) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, target string, summary DecisionSummary, level int) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, target string, summary DecisionSummary, level int) error {
	return f(ctx, target, summary, level)
}

// NoopNotifier drops every notification.
type NoopNotifier struct{}

// Notify does nothing.
func (NoopNotifier) Notify(context.Context, string, DecisionSummary, int) error { return nil }

// LogNotifier writes notifications to a logger. Useful when no transport is configured.
type LogNotifier struct {
	Logger *log.Logger
}

// Notify logs the escalation notice.
func (n LogNotifier) Notify(_ context.Context, target string, s DecisionSummary, level int) error {
	if n.Logger == nil {
		return nil
	}
	n.Logger.Warn("decision escalated",
		"target", target,
		"level", level,
		"level_name", s.LevelName,
		"decision_id", s.DecisionID,
		"action_type", s.ActionType,
		"risk_level", s.RiskLevel,
		"level_deadline", s.LevelDeadline.Format(time.RFC3339),
	)
	return nil
}

// WebhookNotifier POSTs a JSON notice to a URL.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// NewWebhookNotifier returns a notifier with a client bounded by timeout.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{URL: url, Client: &http.Client{Timeout: timeout}}
}

type webhookPayload struct {
	Event    string          `json:"event"`
	Target   string          `json:"target"`
	Level    int             `json:"level"`
	Decision DecisionSummary `json:"decision"`
	SentAt   time.Time       `json:"sent_at"`
}

// Notify sends the notice; any non-2xx response is an error.
func (n *WebhookNotifier) Notify(ctx context.Context, target string, s DecisionSummary, level int) error {
	body, err := json.Marshal(webhookPayload{
		Event:    "decision.escalated",
		Target:   target,
		Level:    level,
		Decision: s,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// MultiNotifier fans a notice out to several notifiers and returns the first error.
type MultiNotifier []Notifier

// Notify calls every notifier even if an earlier one fails.
func (m MultiNotifier) Notify(ctx context.Context, target string, s DecisionSummary, level int) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, target, s, level); err != nil && first == nil {
			first = err
		}
	}
	return first
}
