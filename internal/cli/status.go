package cli

import (
	"fmt"

	"github.com/Dicklesworthstone/hitl/internal/db"
	"github.com/Dicklesworthstone/hitl/internal/output"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

// statusReport is the output of hitlctl status.
type statusReport struct {
	Database string         `json:"database"`
	Stats    *db.Stats      `json:"stats"`
	Live     int            `json:"live"`
	ByRisk   map[string]int `json:"by_risk"`
	Version  string         `json:"version"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and queue status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.store.ValidateSchema(); err != nil {
			return err
		}
		stats, err := s.store.GetStats()
		if err != nil {
			return err
		}
		report := statusReport{
			Database: s.store.Path(),
			Stats:    stats,
			Live:     s.fw.Queue().Count(),
			ByRisk:   map[string]int{},
			Version:  Version,
		}
		for _, e := range s.fw.Queue().Snapshot() {
			report.ByRisk[string(e.Decision.RiskLevel)]++
		}

		w, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if w.Format() != output.FormatText {
			return w.Write(report)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "database:      %s (schema v%d)\n", report.Database, stats.SchemaVersion)
		fmt.Fprintf(out, "decisions:     %d (%d transitions, %d audit entries)\n", stats.Decisions, stats.Transitions, stats.AuditEntries)
		fmt.Fprintf(out, "awaiting:      %d\n", report.Live)
		for _, level := range []db.RiskLevel{db.RiskCritical, db.RiskHigh, db.RiskMedium, db.RiskLow} {
			if n := report.ByRisk[string(level)]; n > 0 {
				fmt.Fprintf(out, "  %s %d\n", output.RiskBadge(level), n)
			}
		}
		return nil
	},
}
