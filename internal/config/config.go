// Package config implements hierarchical configuration for hitl.
// Precedence: defaults < user (~/.hitl/config.toml) < project (.hitl/config.toml) < env (HITL_*) < flags.
//
// Configuration is read once at startup and treated as immutable for the process lifetime.
package config

import "time"

// Config is the top-level configuration structure.
type Config struct {
	Risk          RiskConfig          `toml:"risk" mapstructure:"risk"`
	SLA           SLAConfig           `toml:"sla" mapstructure:"sla"`
	Escalation    EscalationConfig    `toml:"escalation" mapstructure:"escalation"`
	History       HistoryConfig       `toml:"history" mapstructure:"history"`
	Notifications NotificationsConfig `toml:"notifications" mapstructure:"notifications"`
	Execution     ExecutionConfig     `toml:"execution" mapstructure:"execution"`
	Daemon        DaemonConfig        `toml:"daemon" mapstructure:"daemon"`
}

// RiskConfig holds the scoring thresholds and the per-action-type weight table.
type RiskConfig struct {
	AutoThreshold       float64                  `toml:"auto_threshold" mapstructure:"auto_threshold"`
	SupervisedThreshold float64                  `toml:"supervised_threshold" mapstructure:"supervised_threshold"`
	AdvisoryThreshold   float64                  `toml:"advisory_threshold" mapstructure:"advisory_threshold"`
	CriticalThreshold   float64                  `toml:"critical_threshold" mapstructure:"critical_threshold"`
	HighThreshold       float64                  `toml:"high_threshold" mapstructure:"high_threshold"`
	MediumThreshold     float64                  `toml:"medium_threshold" mapstructure:"medium_threshold"`
	DefaultSeverity     float64                  `toml:"default_severity" mapstructure:"default_severity"`
	Weights             FactorWeights            `toml:"weights" mapstructure:"weights"`
	Actions             map[string]ActionProfile `toml:"actions" mapstructure:"actions"`
}

// FactorWeights weighs each risk factor in the overall score. Weights are normalised to sum to 1.
type FactorWeights struct {
	Severity          float64 `toml:"severity" mapstructure:"severity"`
	TargetCriticality float64 `toml:"target_criticality" mapstructure:"target_criticality"`
	Reversibility     float64 `toml:"reversibility" mapstructure:"reversibility"`
	ImpactScope       float64 `toml:"impact_scope" mapstructure:"impact_scope"`
	HistoricalSuccess float64 `toml:"historical_success" mapstructure:"historical_success"`
	TimeSensitivity   float64 `toml:"time_sensitivity" mapstructure:"time_sensitivity"`
	Confidence        float64 `toml:"confidence" mapstructure:"confidence"`
}

// Sum returns the total of all weights.
func (w FactorWeights) Sum() float64 {
	return w.Severity + w.TargetCriticality + w.Reversibility + w.ImpactScope +
		w.HistoricalSuccess + w.TimeSensitivity + w.Confidence
}

// ActionProfile is the baseline risk profile of one action type. Context values supplied
// at evaluation time override the baseline sub-scores.
type ActionProfile struct {
	Severity          float64        `toml:"severity" mapstructure:"severity"`
	TargetCriticality float64        `toml:"target_criticality" mapstructure:"target_criticality"`
	Irreversibility   float64        `toml:"irreversibility" mapstructure:"irreversibility"`
	ImpactScope       float64        `toml:"impact_scope" mapstructure:"impact_scope"`
	SuccessRate       float64        `toml:"success_rate" mapstructure:"success_rate"`
	TimeSensitivity   float64        `toml:"time_sensitivity" mapstructure:"time_sensitivity"`
	Weights           *FactorWeights `toml:"weights,omitempty" mapstructure:"weights"`
}

// SLAConfig holds the review SLA per risk level, in minutes.
type SLAConfig struct {
	CriticalMins int `toml:"critical_minutes" mapstructure:"critical_minutes"`
	HighMins     int `toml:"high_minutes" mapstructure:"high_minutes"`
	MediumMins   int `toml:"medium_minutes" mapstructure:"medium_minutes"`
	LowMins      int `toml:"low_minutes" mapstructure:"low_minutes"`
}

// EscalationConfig holds the escalation scheduler and ladder settings.
type EscalationConfig struct {
	TickSecs       int           `toml:"tick_seconds" mapstructure:"tick_seconds"`
	AbsoluteCapMin int           `toml:"absolute_cap_minutes" mapstructure:"absolute_cap_minutes"` // 0 disables the cap
	Ladder         []LadderLevel `toml:"ladder" mapstructure:"ladder"`
}

// Tick returns the scan interval.
func (c EscalationConfig) Tick() time.Duration {
	return time.Duration(c.TickSecs) * time.Second
}

// LadderLevel is one rung of the escalation ladder.
type LadderLevel struct {
	Name           string  `toml:"name" mapstructure:"name"`
	Target         string  `toml:"target" mapstructure:"target"`
	Multiplier     float64 `toml:"multiplier" mapstructure:"multiplier"`
	TerminalAction string  `toml:"terminal_action" mapstructure:"terminal_action"` // "" | expired | auto_approve | auto_reject
}

// Terminal actions for the escalation ladder.
const (
	TerminalNone        = ""
	TerminalExpired     = "expired"
	TerminalAutoApprove = "auto_approve"
	TerminalAutoReject  = "auto_reject"
)

// HistoryConfig holds audit persistence settings.
type HistoryConfig struct {
	DatabasePath string `toml:"database_path" mapstructure:"database_path"` // empty keeps the logs in memory only
}

// NotificationsConfig holds escalation notification settings.
type NotificationsConfig struct {
	WebhookURL     string `toml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs    int    `toml:"timeout_seconds" mapstructure:"timeout_seconds"`
	LogOnly        bool   `toml:"log_only" mapstructure:"log_only"`
	IncludeContext bool   `toml:"include_context" mapstructure:"include_context"`
}

// ExecutionConfig maps action types to commands run on approval.
type ExecutionConfig struct {
	Commands    map[string]string `toml:"commands" mapstructure:"commands"`
	TimeoutSecs int               `toml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// DaemonConfig holds process-level settings.
type DaemonConfig struct {
	LogLevel string `toml:"log_level" mapstructure:"log_level"`
	// LogFile is empty for stderr, "default" for ~/.hitl/hitl.log, else a path.
	LogFile string `toml:"log_file" mapstructure:"log_file"`
}
