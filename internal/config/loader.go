package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// LoadOptions controls configuration loading.
type LoadOptions struct {
	// ProjectDir is used to locate .hitl/config.toml. Defaults to CWD when empty.
	ProjectDir string
	// ConfigPath overrides the project config path if provided.
	ConfigPath string
	// FlagOverrides are highest-priority overrides from CLI flags (dot-notated keys).
	FlagOverrides map[string]any
}

// Load returns the effective configuration after applying precedence:
// defaults < user (~/.hitl/config.toml) < project (.hitl/config.toml) < env (HITL_*) < flags.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v)

	projectDir := opts.ProjectDir
	if projectDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			projectDir = cwd
		}
	}

	// 1) User config
	if err := mergeConfigFile(v, userConfigPath()); err != nil {
		return Config{}, err
	}
	// 2) Project config
	if err := mergeConfigFile(v, projectConfigPath(projectDir, opts.ConfigPath)); err != nil {
		return Config{}, err
	}
	// 3) Environment variables
	if err := applyEnvOverrides(v); err != nil {
		return Config{}, err
	}
	// 4) CLI flags (highest)
	applyFlagOverrides(v, opts.FlagOverrides)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults seeds viper with built-in defaults.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("risk.auto_threshold", def.Risk.AutoThreshold)
	v.SetDefault("risk.supervised_threshold", def.Risk.SupervisedThreshold)
	v.SetDefault("risk.advisory_threshold", def.Risk.AdvisoryThreshold)
	v.SetDefault("risk.critical_threshold", def.Risk.CriticalThreshold)
	v.SetDefault("risk.high_threshold", def.Risk.HighThreshold)
	v.SetDefault("risk.medium_threshold", def.Risk.MediumThreshold)
	v.SetDefault("risk.default_severity", def.Risk.DefaultSeverity)
	v.SetDefault("risk.weights", weightsToMap(def.Risk.Weights))
	// Nested maps (not structs) so user tables merge key by key with the defaults.
	actions := make(map[string]any, len(def.Risk.Actions))
	for name, p := range def.Risk.Actions {
		actions[name] = profileToMap(p)
	}
	v.SetDefault("risk.actions", actions)

	v.SetDefault("sla.critical_minutes", def.SLA.CriticalMins)
	v.SetDefault("sla.high_minutes", def.SLA.HighMins)
	v.SetDefault("sla.medium_minutes", def.SLA.MediumMins)
	v.SetDefault("sla.low_minutes", def.SLA.LowMins)

	v.SetDefault("escalation.tick_seconds", def.Escalation.TickSecs)
	v.SetDefault("escalation.absolute_cap_minutes", def.Escalation.AbsoluteCapMin)
	ladder := make([]map[string]any, 0, len(def.Escalation.Ladder))
	for _, l := range def.Escalation.Ladder {
		ladder = append(ladder, map[string]any{
			"name":            l.Name,
			"target":          l.Target,
			"multiplier":      l.Multiplier,
			"terminal_action": l.TerminalAction,
		})
	}
	v.SetDefault("escalation.ladder", ladder)

	v.SetDefault("history.database_path", def.History.DatabasePath)

	v.SetDefault("notifications.webhook_url", def.Notifications.WebhookURL)
	v.SetDefault("notifications.timeout_seconds", def.Notifications.TimeoutSecs)
	v.SetDefault("notifications.log_only", def.Notifications.LogOnly)
	v.SetDefault("notifications.include_context", def.Notifications.IncludeContext)

	v.SetDefault("execution.commands", map[string]any{})
	v.SetDefault("execution.timeout_seconds", def.Execution.TimeoutSecs)

	v.SetDefault("daemon.log_level", def.Daemon.LogLevel)
	v.SetDefault("daemon.log_file", def.Daemon.LogFile)
}

func weightsToMap(w FactorWeights) map[string]any {
	return map[string]any{
		"severity":           w.Severity,
		"target_criticality": w.TargetCriticality,
		"reversibility":      w.Reversibility,
		"impact_scope":       w.ImpactScope,
		"historical_success": w.HistoricalSuccess,
		"time_sensitivity":   w.TimeSensitivity,
		"confidence":         w.Confidence,
	}
}

func profileToMap(p ActionProfile) map[string]any {
	m := map[string]any{
		"severity":           p.Severity,
		"target_criticality": p.TargetCriticality,
		"irreversibility":    p.Irreversibility,
		"impact_scope":       p.ImpactScope,
		"success_rate":       p.SuccessRate,
		"time_sensitivity":   p.TimeSensitivity,
	}
	if p.Weights != nil {
		m["weights"] = weightsToMap(*p.Weights)
	}
	return m
}

// mergeConfigFile merges the TOML config file if it exists.
func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("merge config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides reads HITL_* env vars and applies them.
func applyEnvOverrides(v *viper.Viper) error {
	for _, binding := range envBindings {
		val := os.Getenv(binding.Env)
		if val == "" {
			continue
		}
		parsed, err := parseValueByKind(val, binding.Kind)
		if err != nil {
			return fmt.Errorf("env %s: %w", binding.Env, err)
		}
		v.Set(binding.Key, parsed)
	}
	return nil
}

// applyFlagOverrides applies CLI overrides as highest-precedence values.
func applyFlagOverrides(v *viper.Viper, overrides map[string]any) {
	for k, val := range overrides {
		v.Set(k, val)
	}
}

// ConfigPaths returns the user and project config file paths.
func ConfigPaths(projectDir, configOverride string) (string, string) {
	return userConfigPath(), projectConfigPath(projectDir, configOverride)
}

func userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".hitl", "config.toml")
}

func projectConfigPath(projectDir, override string) string {
	if override != "" {
		return override
	}
	if projectDir == "" {
		return ".hitl/config.toml"
	}
	return filepath.Join(projectDir, ".hitl", "config.toml")
}

// ParseValue parses a raw string into the expected type for a given config key.
func ParseValue(key, raw string) (any, error) {
	kind, ok := keyKinds[key]
	if !ok {
		return nil, fmt.Errorf("unsupported key %q", key)
	}
	return parseValueByKind(raw, kind)
}

// GetValue retrieves a dot-notated scalar value from the Config.
func GetValue(cfg Config, key string) (any, bool) {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return nil, false
	}
	switch section {
	case "risk":
		switch field {
		case "auto_threshold":
			return cfg.Risk.AutoThreshold, true
		case "supervised_threshold":
			return cfg.Risk.SupervisedThreshold, true
		case "advisory_threshold":
			return cfg.Risk.AdvisoryThreshold, true
		case "critical_threshold":
			return cfg.Risk.CriticalThreshold, true
		case "high_threshold":
			return cfg.Risk.HighThreshold, true
		case "medium_threshold":
			return cfg.Risk.MediumThreshold, true
		case "default_severity":
			return cfg.Risk.DefaultSeverity, true
		}
	case "sla":
		switch field {
		case "critical_minutes":
			return cfg.SLA.CriticalMins, true
		case "high_minutes":
			return cfg.SLA.HighMins, true
		case "medium_minutes":
			return cfg.SLA.MediumMins, true
		case "low_minutes":
			return cfg.SLA.LowMins, true
		}
	case "escalation":
		switch field {
		case "tick_seconds":
			return cfg.Escalation.TickSecs, true
		case "absolute_cap_minutes":
			return cfg.Escalation.AbsoluteCapMin, true
		}
	case "history":
		if field == "database_path" {
			return cfg.History.DatabasePath, true
		}
	case "notifications":
		switch field {
		case "webhook_url":
			return cfg.Notifications.WebhookURL, true
		case "timeout_seconds":
			return cfg.Notifications.TimeoutSecs, true
		case "log_only":
			return cfg.Notifications.LogOnly, true
		case "include_context":
			return cfg.Notifications.IncludeContext, true
		}
	case "execution":
		if field == "timeout_seconds" {
			return cfg.Execution.TimeoutSecs, true
		}
	case "daemon":
		switch field {
		case "log_level":
			return cfg.Daemon.LogLevel, true
		case "log_file":
			return cfg.Daemon.LogFile, true
		}
	}
	return nil, false
}

// WriteValue sets a single key/value into the specified TOML config file (creating it if needed).
func WriteValue(path, key string, value any) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	var existing map[string]any
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &existing); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		if existing == nil {
			existing = map[string]any{}
		}
	} else {
		existing = map[string]any{}
	}

	if err := setNested(existing, key, value); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create config %s: %w", path, err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	enc.Indent = "  "
	if err := enc.Encode(existing); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

func setNested(m map[string]any, key string, value any) error {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return fmt.Errorf("invalid key %q", key)
	}
	cur := m
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = value
			return nil
		}
		next, ok := cur[p]
		if !ok {
			child := map[string]any{}
			cur[p] = child
			cur = child
			continue
		}
		childMap, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot set %s: %s is not a table", key, strings.Join(parts[:i+1], "."))
		}
		cur = childMap
	}
	return nil
}

// Helpers for env + parsing ---------------------------------------------------

type valueKind int

const (
	kindString valueKind = iota
	kindBool
	kindInt
	kindFloat
)

var keyKinds = map[string]valueKind{
	"risk.auto_threshold":       kindFloat,
	"risk.supervised_threshold": kindFloat,
	"risk.advisory_threshold":   kindFloat,
	"risk.critical_threshold":   kindFloat,
	"risk.high_threshold":       kindFloat,
	"risk.medium_threshold":     kindFloat,
	"risk.default_severity":     kindFloat,

	"sla.critical_minutes": kindInt,
	"sla.high_minutes":     kindInt,
	"sla.medium_minutes":   kindInt,
	"sla.low_minutes":      kindInt,

	"escalation.tick_seconds":         kindInt,
	"escalation.absolute_cap_minutes": kindInt,

	"history.database_path": kindString,

	"notifications.webhook_url":     kindString,
	"notifications.timeout_seconds": kindInt,
	"notifications.log_only":        kindBool,
	"notifications.include_context": kindBool,

	"execution.timeout_seconds": kindInt,

	"daemon.log_level": kindString,
	"daemon.log_file":  kindString,
}

var envBindings = []struct {
	Env  string
	Key  string
	Kind valueKind
}{
	{"HITL_AUTO_THRESHOLD", "risk.auto_threshold", kindFloat},
	{"HITL_SUPERVISED_THRESHOLD", "risk.supervised_threshold", kindFloat},
	{"HITL_ADVISORY_THRESHOLD", "risk.advisory_threshold", kindFloat},
	{"HITL_DEFAULT_SEVERITY", "risk.default_severity", kindFloat},

	{"HITL_SLA_CRITICAL_MINUTES", "sla.critical_minutes", kindInt},
	{"HITL_SLA_HIGH_MINUTES", "sla.high_minutes", kindInt},
	{"HITL_SLA_MEDIUM_MINUTES", "sla.medium_minutes", kindInt},
	{"HITL_SLA_LOW_MINUTES", "sla.low_minutes", kindInt},

	{"HITL_ESCALATION_TICK_SECONDS", "escalation.tick_seconds", kindInt},
	{"HITL_ESCALATION_CAP_MINUTES", "escalation.absolute_cap_minutes", kindInt},

	{"HITL_HISTORY_DB_PATH", "history.database_path", kindString},

	{"HITL_WEBHOOK_URL", "notifications.webhook_url", kindString},
	{"HITL_WEBHOOK_TIMEOUT_SECONDS", "notifications.timeout_seconds", kindInt},
	{"HITL_NOTIFY_LOG_ONLY", "notifications.log_only", kindBool},

	{"HITL_EXECUTION_TIMEOUT_SECONDS", "execution.timeout_seconds", kindInt},

	{"HITL_LOG_LEVEL", "daemon.log_level", kindString},
	{"HITL_LOG_FILE", "daemon.log_file", kindString},
}

func parseValueByKind(raw string, kind valueKind) (any, error) {
	switch kind {
	case kindString:
		return raw, nil
	case kindBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("expected boolean: %w", err)
		}
		return v, nil
	case kindInt:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("expected integer: %w", err)
		}
		return v, nil
	case kindFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("expected number: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported value kind")
	}
}
