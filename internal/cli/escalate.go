package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/Dicklesworthstone/hitl/internal/output"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(tickCmd, runCmd)
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one escalation scan",
	Long: `Move every overdue decision one step up the escalation ladder, or to its
terminal action, then exit. Useful from cron when "hitlctl run" is not running.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		report := s.fw.Escalation().Tick(cmd.Context())
		w, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if w.Format() != output.FormatText {
			return w.Write(report)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d escalated=%d resolved=%d lost=%d failed=%d\n",
			report.Scanned, report.Escalated, report.Resolved, report.Lost, report.Failed)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the escalation loop until interrupted",
	Long: `Restore state from the database and scan for overdue decisions every
escalation.tick_seconds until SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := openSession(ctx, cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		s.logger.Info("hitl escalation service started", "db", s.store.Path(), "live", s.fw.Queue().Count())
		if err := s.fw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
