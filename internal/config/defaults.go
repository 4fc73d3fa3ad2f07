package config

// Built-in defaults for hitl configuration.

var defaultWeights = FactorWeights{
	Severity:          0.30,
	TargetCriticality: 0.20,
	Reversibility:     0.15,
	ImpactScope:       0.15,
	HistoricalSuccess: 0.10,
	TimeSensitivity:   0.05,
	Confidence:        0.05,
}

// Baseline profiles for common remediation actions. Unknown action types fall back
// to DefaultProfile.
var defaultActions = map[string]ActionProfile{
	"block_ip": {
		Severity: 0.2, TargetCriticality: 0.3, Irreversibility: 0.1,
		ImpactScope: 0.2, SuccessRate: 0.95, TimeSensitivity: 0.5,
	},
	"rate_limit": {
		Severity: 0.15, TargetCriticality: 0.3, Irreversibility: 0.05,
		ImpactScope: 0.3, SuccessRate: 0.95, TimeSensitivity: 0.5,
	},
	"restart_service": {
		Severity: 0.4, TargetCriticality: 0.5, Irreversibility: 0.2,
		ImpactScope: 0.4, SuccessRate: 0.9, TimeSensitivity: 0.5,
	},
	"isolate_host": {
		Severity: 0.6, TargetCriticality: 0.6, Irreversibility: 0.3,
		ImpactScope: 0.5, SuccessRate: 0.85, TimeSensitivity: 0.7,
	},
	"revoke_credentials": {
		Severity: 0.7, TargetCriticality: 0.7, Irreversibility: 0.6,
		ImpactScope: 0.6, SuccessRate: 0.8, TimeSensitivity: 0.7,
	},
	"delete_data": {
		Severity: 1.0, TargetCriticality: 0.9, Irreversibility: 1.0,
		ImpactScope: 0.8, SuccessRate: 0.5, TimeSensitivity: 0.5,
	},
}

var defaultLadder = []LadderLevel{
	{Name: "team_lead", Target: "team-lead", Multiplier: 1.5},
	{Name: "manager", Target: "manager", Multiplier: 2.0},
	{Name: "director", Target: "director", Multiplier: 3.0, TerminalAction: TerminalExpired},
}

// DefaultProfile returns the conservative profile used for unknown action types.
func DefaultProfile(severity float64) ActionProfile {
	return ActionProfile{
		Severity:          severity,
		TargetCriticality: 0.5,
		Irreversibility:   0.5,
		ImpactScope:       0.5,
		SuccessRate:       0.5,
		TimeSensitivity:   0.5,
	}
}

// DefaultConfig returns the built-in default configuration.
func DefaultConfig() Config {
	actions := make(map[string]ActionProfile, len(defaultActions))
	for k, v := range defaultActions {
		actions[k] = v
	}
	return Config{
		Risk: RiskConfig{
			AutoThreshold:       0.95,
			SupervisedThreshold: 0.80,
			AdvisoryThreshold:   0.60,
			CriticalThreshold:   0.8,
			HighThreshold:       0.5,
			MediumThreshold:     0.2,
			DefaultSeverity:     0.8,
			Weights:             defaultWeights,
			Actions:             actions,
		},
		SLA: SLAConfig{
			CriticalMins: 5,
			HighMins:     15,
			MediumMins:   30,
			LowMins:      60,
		},
		Escalation: EscalationConfig{
			TickSecs:       15,
			AbsoluteCapMin: 0,
			Ladder:         append([]LadderLevel(nil), defaultLadder...),
		},
		History: HistoryConfig{
			DatabasePath: "",
		},
		Notifications: NotificationsConfig{
			WebhookURL:     "",
			TimeoutSecs:    10,
			LogOnly:        true,
			IncludeContext: false,
		},
		Execution: ExecutionConfig{
			Commands:    map[string]string{},
			TimeoutSecs: 60,
		},
		Daemon: DaemonConfig{
			LogLevel: "info",
			LogFile:  "",
		},
	}
}
