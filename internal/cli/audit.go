package cli

import (
	"fmt"
	"time"

	"github.com/Dicklesworthstone/hitl/internal/core"
	"github.com/Dicklesworthstone/hitl/internal/db"
	"github.com/Dicklesworthstone/hitl/internal/output"
	"github.com/spf13/cobra"
)

var (
	flagAuditDecision string
	flagAuditOperator string
	flagAuditEvents   []string
	flagAuditSince    string
	flagAuditUntil    string

	flagReportTag  string
	flagReportFrom string
	flagReportTo   string

	flagMetricsOperator string
	flagMetricsPeriod   time.Duration
)

func init() {
	addAuditFlags(auditCmd)
	addReportFlags(reportCmd)
	addMetricsFlags(metricsCmd)
	addDashboardFlags(dashboardCmd)
	rootCmd.AddCommand(auditCmd, reportCmd, metricsCmd, dashboardCmd)
}

func addAuditFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagAuditDecision, "decision", "", "only entries for this decision")
	cmd.Flags().StringVar(&flagAuditOperator, "operator", "", "only entries recorded by this actor")
	cmd.Flags().StringSliceVar(&flagAuditEvents, "event", nil, "only these event types (repeatable or comma separated)")
	cmd.Flags().StringVar(&flagAuditSince, "since", "", "lower bound: RFC3339 time or duration ago (e.g. 24h)")
	cmd.Flags().StringVar(&flagAuditUntil, "until", "", "upper bound: RFC3339 time or duration ago")
}

func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagReportTag, "tag", "*", "regulation tag (comma list matched against the regulation context key)")
	cmd.Flags().StringVar(&flagReportFrom, "from", "720h", "range start: RFC3339 time or duration ago")
	cmd.Flags().StringVar(&flagReportTo, "to", "", "range end: RFC3339 time or duration ago (default now)")
}

func addMetricsFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagMetricsOperator, "operator", "", "operator id (default: every human reviewer)")
	cmd.Flags().DurationVar(&flagMetricsPeriod, "period", 24*time.Hour, "trailing window")
}

func addDashboardFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagMetricsOperator, "operator", "", "operator id (required)")
}

// parseTimeBound accepts an RFC3339 timestamp or a duration measured back from now.
func parseTimeBound(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return now.Add(-d).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q (want RFC3339 or a duration such as 24h)", raw)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail",
	Long: `Query audit entries in timestamp order.

Examples:
  hitlctl audit --decision 3f2c...
  hitlctl audit --operator alice --since 24h -o yaml
  hitlctl audit --event escalated,expired`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()
		from, err := parseTimeBound(flagAuditSince, now)
		if err != nil {
			return err
		}
		to, err := parseTimeBound(flagAuditUntil, now)
		if err != nil {
			return err
		}
		filter := core.AuditFilter{
			From:       from,
			To:         to,
			OperatorID: flagAuditOperator,
			DecisionID: flagAuditDecision,
		}
		for _, ev := range flagAuditEvents {
			filter.EventTypes = append(filter.EventTypes, db.EventType(ev))
		}

		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		entries := s.fw.Query(filter)
		w, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if w.Format() != output.FormatText {
			return w.Write(entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No audit entries.")
			return nil
		}
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{
				e.Timestamp.Format(time.RFC3339),
				e.DecisionID,
				string(e.EventType),
				e.Actor,
				fmt.Sprintf("%s -> %s", e.FromStatus, e.ToStatus),
				e.Notes,
			})
		}
		return output.WriteTable(cmd.OutOrStdout(), []string{"TIME", "DECISION", "EVENT", "ACTOR", "TRANSITION", "NOTES"}, rows)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a compliance report",
	Long: `Summarize decisions tagged with a regulation over a time range, including
SLA compliance and detected violations.

Examples:
  hitlctl report --tag SOX --from 2026-01-01T00:00:00Z --to 2026-03-31T23:59:59Z -o yaml
  hitlctl report --from 168h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now().UTC()
		from, err := parseTimeBound(flagReportFrom, now)
		if err != nil {
			return err
		}
		to, err := parseTimeBound(flagReportTo, now)
		if err != nil {
			return err
		}
		if to.IsZero() {
			to = now
		}
		if to.Before(from) {
			return fmt.Errorf("--to is before --from")
		}

		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		report := s.fw.ComplianceReport(flagReportTag, from, to)
		w, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if w.Format() != output.FormatText {
			return w.Write(report)
		}
		printComplianceReport(cmd, report)
		return nil
	},
}

func printComplianceReport(cmd *cobra.Command, r core.ComplianceReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Compliance report [%s] %s .. %s\n", r.Tag, r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
	fmt.Fprintf(out, "  decisions:       %d\n", r.Decisions)
	fmt.Fprintf(out, "  audit entries:   %d\n", r.TotalEntries)
	fmt.Fprintf(out, "  approval rate:   %.1f%%\n", r.ApprovalRate*100)
	fmt.Fprintf(out, "  sla compliance:  %.1f%%\n", r.SLACompliance*100)
	fmt.Fprintf(out, "  violations:      %d\n", len(r.Violations))
	for _, v := range r.Violations {
		fmt.Fprintf(out, "    - %s %s at %s: %s\n", v.Kind, v.DecisionID, v.At.Format(time.RFC3339), v.Detail)
	}
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show operator review metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		m := s.fw.Metrics(flagMetricsOperator, flagMetricsPeriod)
		w, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if w.Format() != output.FormatText {
			return w.Write(m)
		}
		printMetrics(cmd, m)
		return nil
	},
}

func printMetrics(cmd *cobra.Command, m core.OperatorMetrics) {
	out := cmd.OutOrStdout()
	who := m.OperatorID
	if who == "" {
		who = "all operators"
	}
	fmt.Fprintf(out, "Metrics for %s (%s .. %s)\n", who, m.From.Format(time.RFC3339), m.To.Format(time.RFC3339))
	fmt.Fprintf(out, "  reviewed:        %d (approved %d, rejected %d)\n", m.Reviewed, m.Approved, m.Rejected)
	fmt.Fprintf(out, "  approval rate:   %.1f%%\n", m.ApprovalRate*100)
	fmt.Fprintf(out, "  avg review time: %s\n", (time.Duration(m.AvgReviewTimeSeconds * float64(time.Second))).Round(time.Second))
	fmt.Fprintf(out, "  sla compliance:  %.1f%%\n", m.SLACompliance*100)
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show an operator's queue and last-24h metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagMetricsOperator == "" {
			return fmt.Errorf("--operator is required")
		}
		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		d := s.fw.Dashboard(flagMetricsOperator)
		w, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if w.Format() != output.FormatText {
			return w.Write(d)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d decision(s) awaiting %s\n", len(d.Pending), d.OperatorID)
		if len(d.Pending) > 0 {
			if err := output.WriteTable(cmd.OutOrStdout(), []string{"ID", "RISK", "STATUS", "ACTION", "LEVEL", "DUE", "ASSIGNED"}, entryRows(d.Pending, time.Now())); err != nil {
				return err
			}
		}
		printMetrics(cmd, d.Metrics)
		return nil
	},
}
