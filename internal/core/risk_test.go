package core

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/Dicklesworthstone/hitl/internal/config"
	"github.com/Dicklesworthstone/hitl/internal/db"
)

func newTestAssessor() *RiskAssessor {
	return NewRiskAssessor(config.DefaultConfig().Risk)
}

func TestAssess_Scenarios(t *testing.T) {
	a := newTestAssessor()
	tests := []struct {
		name       string
		action     string
		confidence float64
		level      db.RiskLevel
		automation db.AutomationLevel
		score      float64
	}{
		{"block ip high confidence", "block_ip", 0.97, db.RiskLow, db.AutomationFull, 0.1965},
		{"delete data", "delete_data", 0.75, db.RiskCritical, db.AutomationManual, 0.8375},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := a.Assess(tc.action, nil, tc.confidence)
			if err != nil {
				t.Fatalf("Assess() error = %v", err)
			}
			if got.Level != tc.level {
				t.Errorf("level = %s, want %s", got.Level, tc.level)
			}
			if got.Automation != tc.automation {
				t.Errorf("automation = %s, want %s", got.Automation, tc.automation)
			}
			if math.Abs(got.Overall-tc.score) > 1e-9 {
				t.Errorf("score = %v, want %v", got.Overall, tc.score)
			}
		})
	}
}

func TestAssess_HighConfidenceLowRiskIsFull(t *testing.T) {
	a := newTestAssessor()
	actions := []string{"block_ip", "rate_limit", "restart_service", "isolate_host", "revoke_credentials", "delete_data", "never_seen"}
	checked := 0
	for _, action := range actions {
		for c := 0.95; c <= 1.0; c += 0.005 {
			got, err := a.Assess(action, nil, c)
			if err != nil {
				t.Fatalf("Assess(%s, %v) error = %v", action, c, err)
			}
			if got.Level == db.RiskLow || got.Level == db.RiskMedium {
				checked++
				if got.Automation != db.AutomationFull {
					t.Errorf("%s @%.3f level %s: automation = %s, want full", action, c, got.Level, got.Automation)
				}
			}
		}
	}
	if checked == 0 {
		t.Fatalf("no low/medium samples exercised")
	}
}

func TestAssess_HighIsAlwaysAdvisory(t *testing.T) {
	a := newTestAssessor()
	checked := 0
	for _, action := range []string{"isolate_host", "revoke_credentials", "restart_service", "unknown_action"} {
		for c := 0.0; c <= 1.0; c += 0.05 {
			got, err := a.Assess(action, nil, math.Min(c, 1))
			if err != nil {
				t.Fatalf("Assess error = %v", err)
			}
			if got.Level != db.RiskHigh {
				continue
			}
			checked++
			if got.Automation != db.AutomationAdvisory {
				t.Errorf("%s @%.2f: high risk got automation %s", action, c, got.Automation)
			}
		}
	}
	if checked == 0 {
		t.Fatalf("no high samples exercised")
	}
}

func TestAssess_CriticalIsAlwaysManual(t *testing.T) {
	a := newTestAssessor()
	contexts := []map[string]any{
		nil,
		{"target_criticality": "critical", "reversible": false, "impact_scope": "global"},
		{"affected_assets": 5000, "urgency": 1.0},
	}
	checked := 0
	for _, action := range []string{"delete_data", "revoke_credentials", "unknown_action"} {
		for _, ctx := range contexts {
			for c := 0.0; c <= 1.0; c += 0.05 {
				got, err := a.Assess(action, ctx, math.Min(c, 1))
				if err != nil {
					t.Fatalf("Assess error = %v", err)
				}
				if got.Level == db.RiskCritical {
					checked++
					if got.Automation != db.AutomationManual {
						t.Errorf("%s @%.2f: critical risk got automation %s", action, c, got.Automation)
					}
				}
			}
		}
	}
	if checked == 0 {
		t.Fatalf("no critical samples exercised")
	}
}

func TestAssess_AutomationPolicy(t *testing.T) {
	a := newTestAssessor()
	tests := []struct {
		level      db.RiskLevel
		confidence float64
		want       db.AutomationLevel
	}{
		{db.RiskLow, 0.95, db.AutomationFull},
		{db.RiskMedium, 0.94, db.AutomationSupervised},
		{db.RiskLow, 0.80, db.AutomationSupervised},
		{db.RiskMedium, 0.79, db.AutomationAdvisory},
		{db.RiskLow, 0.59, db.AutomationManual},
		{db.RiskHigh, 0.99, db.AutomationAdvisory},
		{db.RiskHigh, 0.60, db.AutomationAdvisory},
		{db.RiskHigh, 0.40, db.AutomationAdvisory},
		{db.RiskHigh, 0.0, db.AutomationAdvisory},
		{db.RiskCritical, 1.0, db.AutomationManual},
		{db.RiskCritical, 0.0, db.AutomationManual},
	}
	for _, tc := range tests {
		if got := a.automationFor(tc.level, tc.confidence); got != tc.want {
			t.Errorf("automationFor(%s, %v) = %s, want %s", tc.level, tc.confidence, got, tc.want)
		}
	}
}

func TestAssess_ContextOverrides(t *testing.T) {
	a := newTestAssessor()
	base, err := a.Assess("restart_service", nil, 0.9)
	if err != nil {
		t.Fatalf("Assess error = %v", err)
	}
	riskier, err := a.Assess("restart_service", map[string]any{
		"target_criticality": "critical",
		"reversible":         false,
		"impact_scope":       "organization",
	}, 0.9)
	if err != nil {
		t.Fatalf("Assess error = %v", err)
	}
	if riskier.Overall <= base.Overall {
		t.Errorf("overrides should raise the score: base %v, got %v", base.Overall, riskier.Overall)
	}
	if riskier.Factors.TargetCriticality != 1.0 || riskier.Factors.Reversibility != 1.0 || riskier.Factors.ImpactScope != 0.7 {
		t.Errorf("unexpected factors: %+v", riskier.Factors)
	}

	assets, err := a.Assess("restart_service", map[string]any{"affected_assets": 999}, 0.9)
	if err != nil {
		t.Fatalf("Assess error = %v", err)
	}
	if math.Abs(assets.Factors.ImpactScope-1.0) > 1e-9 {
		t.Errorf("999 assets should saturate impact scope, got %v", assets.Factors.ImpactScope)
	}

	rate, err := a.Assess("restart_service", map[string]any{"historical_success_rate": 0.25, "time_sensitive": true}, 0.9)
	if err != nil {
		t.Fatalf("Assess error = %v", err)
	}
	if rate.Factors.HistoricalSuccess != 0.75 || rate.Factors.TimeSensitivity != 1.0 {
		t.Errorf("unexpected factors: %+v", rate.Factors)
	}
}

func TestAssess_UnknownActionUsesConservativeDefault(t *testing.T) {
	a := newTestAssessor()
	got, err := a.Assess("reformat_disk", nil, 0.9)
	if err != nil {
		t.Fatalf("Assess error = %v", err)
	}
	if got.Factors.Severity != 0.8 {
		t.Errorf("severity = %v, want default 0.8", got.Factors.Severity)
	}
	if got.Level != db.RiskHigh {
		t.Errorf("level = %s, want high", got.Level)
	}
	if got.Automation == db.AutomationFull {
		t.Errorf("unknown action must not auto-execute")
	}
}

func TestAssess_ProfileWeights(t *testing.T) {
	cfg := config.DefaultConfig().Risk
	cfg.Actions["only_severity"] = config.ActionProfile{
		Severity: 0.4, SuccessRate: 1,
		Weights: &config.FactorWeights{Severity: 2},
	}
	got, err := NewRiskAssessor(cfg).Assess("only_severity", nil, 0.1)
	if err != nil {
		t.Fatalf("Assess error = %v", err)
	}
	if math.Abs(got.Overall-0.4) > 1e-9 {
		t.Errorf("score = %v, want 0.4 (normalised profile weights)", got.Overall)
	}
}

func TestAssess_Validation(t *testing.T) {
	a := newTestAssessor()
	tests := []struct {
		name       string
		action     string
		ctx        map[string]any
		confidence float64
	}{
		{"empty action", " ", nil, 0.5},
		{"nan confidence", "block_ip", nil, math.NaN()},
		{"confidence above one", "block_ip", nil, 1.01},
		{"negative confidence", "block_ip", nil, -0.1},
		{"nested context", "block_ip", map[string]any{"tags": []string{"a"}}, 0.5},
		{"infinite number", "block_ip", map[string]any{"x": math.Inf(1)}, 0.5},
		{"bad label", "block_ip", map[string]any{"target_criticality": "extreme"}, 0.5},
		{"out of range override", "block_ip", map[string]any{"urgency": 3}, 0.5},
		{"non bool reversible", "block_ip", map[string]any{"reversible": "yes"}, 0.5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.Assess(tc.action, tc.ctx, tc.confidence)
			if !errors.Is(err, db.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var verr *db.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *db.ValidationError, got %T", err)
			}
		})
	}
}

func TestNormalizeContext(t *testing.T) {
	got, err := NormalizeContext(map[string]any{
		"count":  int64(3),
		"small":  uint8(2),
		"ratio":  float32(0.5),
		"num":    json.Number("12.5"),
		"flag":   true,
		"name":   "web-01",
		"absent": nil,
	})
	if err != nil {
		t.Fatalf("NormalizeContext error = %v", err)
	}
	want := map[string]any{
		"count": 3.0, "small": 2.0, "ratio": 0.5, "num": 12.5,
		"flag": true, "name": "web-01", "absent": nil,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %#v, want %#v", k, got[k], v)
		}
	}

	empty, err := NormalizeContext(nil)
	if err != nil || empty == nil {
		t.Fatalf("nil context should normalise to an empty map, got %v, %v", empty, err)
	}
}
