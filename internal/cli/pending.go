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
	flagPendingOperator string
	flagPendingRisk     string
)

func init() {
	addPendingFlags(pendingCmd)
	rootCmd.AddCommand(pendingCmd)
}

func addPendingFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagPendingOperator, "operator", "", "only entries assigned to this operator or unassigned")
	cmd.Flags().StringVar(&flagPendingRisk, "risk", "", "only entries at this risk level")
}

var pendingCmd = &cobra.Command{
	Use:     "pending",
	Aliases: []string{"queue"},
	Short:   "List decisions awaiting review",
	Long: `List live decisions in review order: highest risk first, then earliest deadline.

Examples:
  hitlctl pending
  hitlctl pending --operator alice --risk critical -j`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := core.PendingFilter{OperatorID: flagPendingOperator}
		if flagPendingRisk != "" {
			level := db.RiskLevel(flagPendingRisk)
			if !level.Valid() {
				return fmt.Errorf("invalid --risk %q", flagPendingRisk)
			}
			filter.RiskLevel = level
		}

		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		entries := make([]core.QueuedEntry, 0)
		for e := range s.fw.Queue().PeekPending(filter) {
			entries = append(entries, e)
		}

		w, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if w.Format() != output.FormatText {
			return w.Write(entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No decisions awaiting review.")
			return nil
		}
		return output.WriteTable(cmd.OutOrStdout(), []string{"ID", "RISK", "STATUS", "ACTION", "LEVEL", "DUE", "ASSIGNED"}, entryRows(entries, time.Now()))
	},
}

func entryRows(entries []core.QueuedEntry, now time.Time) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		assigned := e.AssignedOperator
		if assigned == "" {
			assigned = "-"
		}
		rows = append(rows, []string{
			e.Decision.ID,
			output.RiskBadge(e.Decision.RiskLevel),
			output.StatusBadge(e.Decision.Status),
			e.Decision.ActionType,
			fmt.Sprintf("%d", e.Decision.EscalationLevel),
			dueIn(e.Deadline, now),
			assigned,
		})
	}
	return rows
}

func dueIn(deadline, now time.Time) string {
	d := deadline.Sub(now).Round(time.Second)
	if d < 0 {
		return "overdue " + (-d).String()
	}
	return d.String()
}
