package config

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Validate checks the configuration for semantic errors.
func Validate(cfg Config) error {
	var errs []string

	unit := func(name string, v float64) {
		if math.IsNaN(v) || v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("%s must be within [0,1]", name))
		}
	}

	r := cfg.Risk
	unit("risk.auto_threshold", r.AutoThreshold)
	unit("risk.supervised_threshold", r.SupervisedThreshold)
	unit("risk.advisory_threshold", r.AdvisoryThreshold)
	unit("risk.critical_threshold", r.CriticalThreshold)
	unit("risk.high_threshold", r.HighThreshold)
	unit("risk.medium_threshold", r.MediumThreshold)
	unit("risk.default_severity", r.DefaultSeverity)
	if !(r.AdvisoryThreshold <= r.SupervisedThreshold && r.SupervisedThreshold <= r.AutoThreshold) {
		errs = append(errs, "risk thresholds must satisfy advisory <= supervised <= auto")
	}
	if !(r.MediumThreshold < r.HighThreshold && r.HighThreshold < r.CriticalThreshold) {
		errs = append(errs, "risk level thresholds must satisfy medium < high < critical")
	}
	validateWeights := func(prefix string, w FactorWeights) {
		for _, f := range []struct {
			name string
			v    float64
		}{
			{"severity", w.Severity},
			{"target_criticality", w.TargetCriticality},
			{"reversibility", w.Reversibility},
			{"impact_scope", w.ImpactScope},
			{"historical_success", w.HistoricalSuccess},
			{"time_sensitivity", w.TimeSensitivity},
			{"confidence", w.Confidence},
		} {
			if f.v < 0 {
				errs = append(errs, fmt.Sprintf("%s.%s cannot be negative", prefix, f.name))
			}
		}
		if w.Sum() <= 0 {
			errs = append(errs, prefix+" must have a positive sum")
		}
	}
	validateWeights("risk.weights", r.Weights)
	actions := make([]string, 0, len(r.Actions))
	for name := range r.Actions {
		actions = append(actions, name)
	}
	sort.Strings(actions)
	for _, name := range actions {
		p := r.Actions[name]
		prefix := "risk.actions." + name
		unit(prefix+".severity", p.Severity)
		unit(prefix+".target_criticality", p.TargetCriticality)
		unit(prefix+".irreversibility", p.Irreversibility)
		unit(prefix+".impact_scope", p.ImpactScope)
		unit(prefix+".success_rate", p.SuccessRate)
		unit(prefix+".time_sensitivity", p.TimeSensitivity)
		if p.Weights != nil {
			validateWeights(prefix+".weights", *p.Weights)
		}
	}

	if cfg.SLA.CriticalMins <= 0 || cfg.SLA.HighMins <= 0 || cfg.SLA.MediumMins <= 0 || cfg.SLA.LowMins <= 0 {
		errs = append(errs, "sla minutes must be > 0 for every risk level")
	}

	if cfg.Escalation.TickSecs <= 0 {
		errs = append(errs, "escalation.tick_seconds must be > 0")
	}
	if cfg.Escalation.AbsoluteCapMin < 0 {
		errs = append(errs, "escalation.absolute_cap_minutes cannot be negative")
	}
	if len(cfg.Escalation.Ladder) == 0 {
		errs = append(errs, "escalation.ladder must have at least one level")
	}
	for i, l := range cfg.Escalation.Ladder {
		if strings.TrimSpace(l.Name) == "" {
			errs = append(errs, fmt.Sprintf("escalation.ladder[%d].name is required", i))
		}
		if l.Multiplier <= 0 {
			errs = append(errs, fmt.Sprintf("escalation.ladder[%d].multiplier must be > 0", i))
		}
		if !oneOf(l.TerminalAction, TerminalNone, TerminalExpired, TerminalAutoApprove, TerminalAutoReject) {
			errs = append(errs, fmt.Sprintf("escalation.ladder[%d].terminal_action must be one of expired|auto_approve|auto_reject", i))
		}
	}

	if cfg.Notifications.TimeoutSecs < 0 {
		errs = append(errs, "notifications.timeout_seconds cannot be negative")
	}
	if cfg.Execution.TimeoutSecs < 0 {
		errs = append(errs, "execution.timeout_seconds cannot be negative")
	}
	if !oneOf(strings.ToLower(cfg.Daemon.LogLevel), "", "debug", "info", "warn", "warning", "error") {
		errs = append(errs, "daemon.log_level must be one of debug|info|warn|error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func oneOf(val string, options ...string) bool {
	for _, opt := range options {
		if val == opt {
			return true
		}
	}
	return false
}
