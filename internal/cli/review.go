package cli

import (
	"fmt"

	"github.com/Dicklesworthstone/hitl/internal/core"
	"github.com/Dicklesworthstone/hitl/internal/output"
	"github.com/spf13/cobra"
)

var (
	flagReviewOperator string
	flagReviewNotes    string
	flagRejectReason   string
)

func init() {
	addApproveFlags(approveCmd)
	addRejectFlags(rejectCmd)
	addAssignFlags(assignCmd)
	rootCmd.AddCommand(approveCmd, rejectCmd, assignCmd)
}

func addApproveFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagReviewOperator, "operator", "u", "", "operator id (required)")
	cmd.Flags().StringVarP(&flagReviewNotes, "notes", "m", "", "review notes")
}

func addRejectFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagReviewOperator, "operator", "u", "", "operator id (required)")
	cmd.Flags().StringVarP(&flagRejectReason, "reason", "r", "", "rejection reason (required)")
}

func addAssignFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagReviewOperator, "operator", "u", "", "operator id (required)")
}

var approveCmd = &cobra.Command{
	Use:   "approve <decision-id>",
	Short: "Approve a queued decision",
	Long: `Approve a queued or escalated decision. The configured executor runs the
action once the approval is recorded.

Examples:
  hitlctl approve 3f2c... -u alice -m "verified with owner"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReview(cmd, args[0], true, flagReviewNotes)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <decision-id>",
	Short: "Reject a queued decision",
	Long: `Reject a queued or escalated decision. A reason is required.

Examples:
  hitlctl reject 3f2c... -u alice -r "target is the backup cluster"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagRejectReason == "" {
			return fmt.Errorf("--reason is required")
		}
		return runReview(cmd, args[0], false, flagRejectReason)
	},
}

func runReview(cmd *cobra.Command, id string, approve bool, notes string) error {
	if flagReviewOperator == "" {
		return fmt.Errorf("--operator is required")
	}
	s, err := openSession(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.fw.Review(cmd.Context(), id, flagReviewOperator, approve, notes)
	if err != nil {
		return err
	}

	w, err := newWriter(cmd)
	if err != nil {
		return err
	}
	if w.Format() != output.FormatText {
		return w.Write(res)
	}
	printReviewOutcome(cmd, id, res)
	return nil
}

func printReviewOutcome(cmd *cobra.Command, id string, res core.ReviewOutcome) {
	out := cmd.OutOrStdout()
	if res.Applied {
		fmt.Fprintf(out, "%s %s\n", output.StatusBadge(res.Status), id)
		return
	}
	fmt.Fprintf(out, "Not applied: %s is already %s\n", id, res.Status)
	if res.Reason != "" {
		fmt.Fprintf(out, "  %s\n", res.Reason)
	}
}

var assignCmd = &cobra.Command{
	Use:   "assign <decision-id>",
	Short: "Assign a live decision to an operator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagReviewOperator == "" {
			return fmt.Errorf("--operator is required")
		}
		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		entry, err := s.fw.Assign(cmd.Context(), args[0], flagReviewOperator)
		if err != nil {
			return err
		}
		w, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if w.Format() != output.FormatText {
			return w.Write(entry)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Assigned %s to %s\n", args[0], flagReviewOperator)
		return nil
	},
}
