// Package cli implements the hitlctl command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Dicklesworthstone/hitl/internal/config"
	"github.com/Dicklesworthstone/hitl/internal/core"
	"github.com/Dicklesworthstone/hitl/internal/db"
	"github.com/Dicklesworthstone/hitl/internal/integrations"
	"github.com/Dicklesworthstone/hitl/internal/output"
	"github.com/Dicklesworthstone/hitl/internal/utils"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	flagDB       string
	flagOutput   string
	flagJSON     bool
	flagProject  string
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "hitlctl",
	Short: "Risk-gated decision routing with human review",
	Long: `hitlctl scores proposed actions, queues risky ones for operator review,
escalates overdue reviews and keeps an append-only audit trail.

State is rebuilt from the SQLite transition log on every invocation. Writers
sharing one database are checked against the persisted log, so a review next to
a running "hitlctl run" loop resolves a decision exactly once.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
}

func init() {
	addPersistentFlags(rootCmd, "auto")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(GetOutput(), os.Stdout)
		if err != nil {
			return err
		}
		output.SetOutputMode(format)
		return nil
	}
}

func addPersistentFlags(cmd *cobra.Command, defaultOutput string) {
	cmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: history.database_path or .hitl/state.db)")
	cmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", defaultOutput, "output format: text, json, yaml or auto")
	cmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "shorthand for --output=json")
	cmd.PersistentFlags().StringVarP(&flagProject, "project", "C", "", "project directory (default: current directory)")
	cmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "project config file (default: .hitl/config.toml)")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level override (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetOutput returns the requested output format name.
func GetOutput() string {
	if flagJSON {
		return string(output.FormatJSON)
	}
	return flagOutput
}

// GetDB returns the database path: the flag, else the configured path, else the project default.
func GetDB(cfg config.Config) (string, error) {
	if flagDB != "" {
		return flagDB, nil
	}
	if cfg.History.DatabasePath != "" {
		return cfg.History.DatabasePath, nil
	}
	project, err := projectPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(project, ".hitl", "state.db"), nil
}

func projectPath() (string, error) {
	if flagProject != "" {
		return filepath.Abs(flagProject)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return cwd, nil
}

func loadConfig() (config.Config, error) {
	project, err := projectPath()
	if err != nil {
		return config.Config{}, err
	}
	overrides := map[string]any{}
	if flagLogLevel != "" {
		overrides["daemon.log_level"] = flagLogLevel
	}
	return config.Load(config.LoadOptions{
		ProjectDir:    project,
		ConfigPath:    flagConfig,
		FlagOverrides: overrides,
	})
}

func newWriter(cmd *cobra.Command) (*output.Writer, error) {
	format, err := output.ParseFormat(GetOutput(), os.Stdout)
	if err != nil {
		return nil, err
	}
	output.SetOutputMode(format)
	return output.NewWithWriter(format, cmd.OutOrStdout()), nil
}

// session is one command's view of the framework, restored from the database.
type session struct {
	cfg    config.Config
	store  *db.DB
	fw     *core.Framework
	logger *log.Logger
}

func (s *session) Close() error {
	return s.store.Close()
}

// openSession loads configuration, opens the database and replays it into a fresh framework.
func openSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := utils.InitServiceLogger(cfg.Daemon.LogLevel, cfg.Daemon.LogFile)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if cfg.Daemon.LogFile == "" {
		logger.SetOutput(cmd.ErrOrStderr())
	}
	utils.SetDefaultLogger(logger)

	dbPath, err := GetDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	store, err := db.OpenAndMigrate(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	fw, err := core.New(cfg,
		core.WithStore(store),
		core.WithLogger(logger),
		core.WithExecutor(executorFor(cfg, logger)),
		core.WithNotifier(notifierFor(cfg, logger)),
	)
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := fw.Restore(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("restore state: %w", err)
	}
	return &session{cfg: cfg, store: store, fw: fw, logger: logger}, nil
}

func executorFor(cfg config.Config, logger *log.Logger) integrations.Executor {
	if len(cfg.Execution.Commands) == 0 {
		return integrations.NoopExecutor{}
	}
	return &integrations.CommandExecutor{
		Commands: cfg.Execution.Commands,
		Timeout:  time.Duration(cfg.Execution.TimeoutSecs) * time.Second,
		Logger:   logger,
	}
}

func notifierFor(cfg config.Config, logger *log.Logger) integrations.Notifier {
	logN := integrations.LogNotifier{Logger: logger}
	if cfg.Notifications.WebhookURL == "" || cfg.Notifications.LogOnly {
		return logN
	}
	timeout := time.Duration(cfg.Notifications.TimeoutSecs) * time.Second
	return integrations.MultiNotifier{logN, integrations.NewWebhookNotifier(cfg.Notifications.WebhookURL, timeout)}
}
