package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Dicklesworthstone/hitl/internal/core"
	"github.com/Dicklesworthstone/hitl/internal/output"
	"github.com/spf13/cobra"
)

var (
	flagEvalConfidence float64
	flagEvalContext    []string
)

func init() {
	addEvaluateFlags(evaluateCmd)
	rootCmd.AddCommand(evaluateCmd)
}

func addEvaluateFlags(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&flagEvalConfidence, "confidence", -1, "proposer confidence in [0,1] (required)")
	cmd.Flags().StringArrayVarP(&flagEvalContext, "ctx", "x", nil, "context attribute key=value (repeatable)")
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <action-type>",
	Short: "Score a proposed action and route it",
	Long: `Score a proposed action and either auto-execute it or queue it for review.

Context values are parsed as numbers or booleans when they look like one and
kept as strings otherwise.

Examples:
  hitlctl evaluate block_ip --confidence 0.97 -x target_criticality=low
  hitlctl evaluate delete_data --confidence 0.75 -x reversible=false -x affected_assets=400`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagEvalConfidence < 0 {
			return fmt.Errorf("--confidence is required")
		}
		attrs, err := parseContextPairs(flagEvalContext)
		if err != nil {
			return err
		}

		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		res, err := s.fw.Evaluate(cmd.Context(), args[0], attrs, flagEvalConfidence)
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
		printDecisionResult(cmd, res)
		return nil
	},
}

func printDecisionResult(cmd *cobra.Command, res core.DecisionResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s  %s\n", output.StatusBadge(res.Status), output.RiskBadge(res.RiskLevel), res.DecisionID)
	fmt.Fprintf(out, "  risk score:  %.4f\n", res.RiskScore)
	fmt.Fprintf(out, "  automation:  %s\n", res.AutomationLevel)
	if !res.SLADeadline.IsZero() {
		fmt.Fprintf(out, "  sla:         %s\n", res.SLADeadline.Format("2006-01-02 15:04:05Z07:00"))
	}
	if res.Execution != nil {
		fmt.Fprintf(out, "  executed:    success=%t %s\n", res.Execution.Success, res.Execution.Details)
	}
}

// parseContextPairs turns key=value flags into a context map.
func parseContextPairs(pairs []string) (map[string]any, error) {
	attrs := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid context attribute %q (want key=value)", p)
		}
		attrs[key] = parseScalar(raw)
	}
	return attrs, nil
}

func parseScalar(raw string) any {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
