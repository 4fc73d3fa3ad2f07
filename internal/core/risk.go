// Package core implements the core domain logic for hitl: risk scoring, the review
// queue, escalation, the audit trail and the framework facade tying them together.
package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/Dicklesworthstone/hitl/internal/config"
	"github.com/Dicklesworthstone/hitl/internal/db"
)

// Re-export db types for convenience.
type (
	// Decision is one proposed action and its routing state.
	Decision = db.Decision
	// AuditEntry is an immutable record of one decision event.
	AuditEntry = db.AuditEntry
	// RiskLevel is the coarse risk classification.
	RiskLevel = db.RiskLevel
	// AutomationLevel is the policy tier of a decision.
	AutomationLevel = db.AutomationLevel
	// Status is the lifecycle state of a decision.
	Status = db.Status
)

// Recognised context keys that override profile sub-scores.
const (
	ContextTargetCriticality = "target_criticality"
	ContextReversible        = "reversible"
	ContextImpactScope       = "impact_scope"
	ContextAffectedAssets    = "affected_assets"
	ContextSuccessRate       = "historical_success_rate"
	ContextTimeSensitive     = "time_sensitive"
	ContextUrgency           = "urgency"
	// ContextRegulation tags a decision with the regulations it falls under (comma separated).
	ContextRegulation = "regulation"
)

var criticalityLabels = map[string]float64{
	"low":      0.2,
	"medium":   0.5,
	"high":     0.8,
	"critical": 1.0,
}

var scopeLabels = map[string]float64{
	"single":       0.1,
	"service":      0.4,
	"organization": 0.7,
	"global":       1.0,
}

// RiskScore is the result of assessing one proposed action.
type RiskScore struct {
	Overall    float64            `json:"overall"`
	Level      db.RiskLevel       `json:"level"`
	Automation db.AutomationLevel `json:"automation"`
	Factors    db.RiskFactors     `json:"factors"`
}

// RiskAssessor scores proposed actions against the configured action profiles.
// It is pure: it neither records nor enqueues anything.
type RiskAssessor struct {
	cfg config.RiskConfig
}

// NewRiskAssessor returns an assessor for cfg.
func NewRiskAssessor(cfg config.RiskConfig) *RiskAssessor {
	return &RiskAssessor{cfg: cfg}
}

// Profile returns the baseline profile for actionType, falling back to the
// conservative default for unknown types.
func (a *RiskAssessor) Profile(actionType string) (config.ActionProfile, bool) {
	if p, ok := a.cfg.Actions[actionType]; ok {
		return p, true
	}
	return config.DefaultProfile(a.cfg.DefaultSeverity), false
}

// Assess scores actionType with the given context and proposer confidence.
func (a *RiskAssessor) Assess(actionType string, context map[string]any, confidence float64) (RiskScore, error) {
	if strings.TrimSpace(actionType) == "" {
		return RiskScore{}, db.Validationf("action_type", "is required")
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return RiskScore{}, db.Validationf("confidence", "must be within [0,1], got %v", confidence)
	}
	ctx, err := NormalizeContext(context)
	if err != nil {
		return RiskScore{}, err
	}

	profile, _ := a.Profile(actionType)
	factors, err := factorsFor(profile, ctx, confidence)
	if err != nil {
		return RiskScore{}, err
	}

	weights := a.cfg.Weights
	if profile.Weights != nil {
		weights = *profile.Weights
	}
	overall := clamp01(weightedSum(factors, weights))
	level := a.levelFor(overall)

	return RiskScore{
		Overall:    overall,
		Level:      level,
		Automation: a.automationFor(level, confidence),
		Factors:    factors,
	}, nil
}

func (a *RiskAssessor) levelFor(score float64) db.RiskLevel {
	switch {
	case score >= a.cfg.CriticalThreshold:
		return db.RiskCritical
	case score >= a.cfg.HighThreshold:
		return db.RiskHigh
	case score >= a.cfg.MediumThreshold:
		return db.RiskMedium
	default:
		return db.RiskLow
	}
}

// automationFor applies the routing policy. Critical risk always needs a human, and high
// risk is advisory at any confidence.
func (a *RiskAssessor) automationFor(level db.RiskLevel, confidence float64) db.AutomationLevel {
	lowOrMedium := level == db.RiskLow || level == db.RiskMedium
	switch {
	case level == db.RiskCritical:
		return db.AutomationManual
	case level == db.RiskHigh:
		return db.AutomationAdvisory
	case lowOrMedium && confidence >= a.cfg.AutoThreshold:
		return db.AutomationFull
	case lowOrMedium && confidence >= a.cfg.SupervisedThreshold:
		return db.AutomationSupervised
	case confidence >= a.cfg.AdvisoryThreshold:
		return db.AutomationAdvisory
	default:
		return db.AutomationManual
	}
}

func factorsFor(p config.ActionProfile, ctx map[string]any, confidence float64) (db.RiskFactors, error) {
	f := db.RiskFactors{
		Severity:          p.Severity,
		TargetCriticality: p.TargetCriticality,
		Reversibility:     p.Irreversibility,
		ImpactScope:       p.ImpactScope,
		HistoricalSuccess: 1 - p.SuccessRate,
		TimeSensitivity:   p.TimeSensitivity,
		Confidence:        1 - confidence,
	}

	if v, ok := ctx[ContextTargetCriticality]; ok && v != nil {
		x, err := unitOrLabel(ContextTargetCriticality, v, criticalityLabels)
		if err != nil {
			return f, err
		}
		f.TargetCriticality = x
	}
	if v, ok := ctx[ContextReversible]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return f, db.Validationf("context."+ContextReversible, "must be a boolean")
		}
		if b {
			f.Reversibility = 0.1
		} else {
			f.Reversibility = 1.0
		}
	}
	if v, ok := ctx[ContextImpactScope]; ok && v != nil {
		x, err := unitOrLabel(ContextImpactScope, v, scopeLabels)
		if err != nil {
			return f, err
		}
		f.ImpactScope = x
	}
	if v, ok := ctx[ContextAffectedAssets]; ok && v != nil {
		n, ok := v.(float64)
		if !ok || n < 0 {
			return f, db.Validationf("context."+ContextAffectedAssets, "must be a non-negative number")
		}
		// 1 asset ~0.1, 10 ~0.35, 1000+ saturates.
		f.ImpactScope = math.Max(f.ImpactScope, clamp01(math.Log10(n+1)/3))
	}
	if v, ok := ctx[ContextSuccessRate]; ok && v != nil {
		x, err := unitNumber(ContextSuccessRate, v)
		if err != nil {
			return f, err
		}
		f.HistoricalSuccess = 1 - x
	}
	if v, ok := ctx[ContextTimeSensitive]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return f, db.Validationf("context."+ContextTimeSensitive, "must be a boolean")
		}
		if b {
			f.TimeSensitivity = 1.0
		} else {
			f.TimeSensitivity = 0.0
		}
	}
	if v, ok := ctx[ContextUrgency]; ok && v != nil {
		x, err := unitNumber(ContextUrgency, v)
		if err != nil {
			return f, err
		}
		f.TimeSensitivity = x
	}
	return f, nil
}

func weightedSum(f db.RiskFactors, w config.FactorWeights) float64 {
	total := w.Sum()
	if total <= 0 {
		return 1
	}
	sum := f.Severity*w.Severity +
		f.TargetCriticality*w.TargetCriticality +
		f.Reversibility*w.Reversibility +
		f.ImpactScope*w.ImpactScope +
		f.HistoricalSuccess*w.HistoricalSuccess +
		f.TimeSensitivity*w.TimeSensitivity +
		f.Confidence*w.Confidence
	return sum / total
}

func unitNumber(key string, v any) (float64, error) {
	x, ok := v.(float64)
	if !ok || x < 0 || x > 1 {
		return 0, db.Validationf("context."+key, "must be a number within [0,1]")
	}
	return x, nil
}

func unitOrLabel(key string, v any, labels map[string]float64) (float64, error) {
	if s, ok := v.(string); ok {
		x, ok := labels[strings.ToLower(strings.TrimSpace(s))]
		if !ok {
			return 0, db.Validationf("context."+key, "unknown value %q", s)
		}
		return x, nil
	}
	return unitNumber(key, v)
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 1
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

// NormalizeContext validates that every value is a scalar and converts all numbers to
// float64 so a decision context survives a JSON round trip unchanged. The result is never nil.
func NormalizeContext(in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if strings.TrimSpace(k) == "" {
			return nil, db.Validationf("context", "keys must be non-empty")
		}
		nv, err := normalizeScalar(v)
		if err != nil {
			return nil, db.Validationf("context."+k, "%v", err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeScalar(v any) (any, error) {
	var f float64
	switch x := v.(type) {
	case nil, bool, string:
		return x, nil
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", x.String())
		}
		f = parsed
	default:
		return nil, fmt.Errorf("unsupported value type %T (only scalars are allowed)", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("number must be finite")
	}
	return f, nil
}
