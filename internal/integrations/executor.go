package integrations

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	shellwords "github.com/mattn/go-shellwords"
)

// ExecutionResult is the executor's report for one decision.
type ExecutionResult struct {
	Success  bool          `json:"success"`
	Details  string        `json:"details"`
	Duration time.Duration `json:"duration"`
}

// Executor performs an approved action. hitl never performs actions itself.
type Executor interface {
	Execute(ctx context.Context, decisionID, actionType string, context map[string]any) (ExecutionResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, decisionID, actionType string, context map[string]any) (ExecutionResult, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, decisionID, actionType string, c map[string]any) (ExecutionResult, error) {
	return f(ctx, decisionID, actionType, c)
}

// NoopExecutor reports every execution as not performed.
type NoopExecutor struct{}

// Execute returns an unsuccessful result without doing anything.
func (NoopExecutor) Execute(context.Context, string, string, map[string]any) (ExecutionResult, error) {
	return ExecutionResult{Success: false, Details: "no executor configured"}, nil
}

// maxCapturedOutput bounds how much command output ends up in ExecutionResult.Details.
const maxCapturedOutput = 4096

var envKeySanitizer = regexp.MustCompile(`[^A-Z0-9_]`)

// CommandExecutor runs a configured command line per action type. The decision context
// is passed to the command as HITL_CTX_<KEY> environment variables, never spliced into argv.
type CommandExecutor struct {
	Commands map[string]string
	Timeout  time.Duration
	Logger   *log.Logger
}

// Execute runs the command configured for actionType.
func (e *CommandExecutor) Execute(ctx context.Context, decisionID, actionType string, c map[string]any) (ExecutionResult, error) {
	line, ok := e.Commands[actionType]
	if !ok || strings.TrimSpace(line) == "" {
		return ExecutionResult{Success: false, Details: fmt.Sprintf("no command configured for action type %q", actionType)}, nil
	}

	parser := shellwords.NewParser()
	parser.ParseEnv = false
	parser.ParseBacktick = false
	argv, err := parser.Parse(line)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("parsing command for %s: %w", actionType, err)
	}
	if len(argv) == 0 {
		return ExecutionResult{}, fmt.Errorf("empty command for %s", actionType)
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), commandEnv(decisionID, actionType, c)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	runErr := cmd.Run()
	res := ExecutionResult{
		Success:  runErr == nil,
		Details:  truncate(out.String(), maxCapturedOutput),
		Duration: time.Since(start),
	}
	if runErr != nil {
		if res.Details == "" {
			res.Details = runErr.Error()
		}
		if e.Logger != nil {
			e.Logger.Warn("action command failed", "decision_id", decisionID, "action_type", actionType, "error", runErr)
		}
	}
	return res, nil
}

func commandEnv(decisionID, actionType string, c map[string]any) []string {
	env := []string{
		"HITL_DECISION_ID=" + decisionID,
		"HITL_ACTION_TYPE=" + actionType,
	}
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := envKeySanitizer.ReplaceAllString(strings.ToUpper(k), "_")
		v := c[k]
		if v == nil {
			v = ""
		}
		env = append(env, fmt.Sprintf("HITL_CTX_%s=%v", name, v))
	}
	return env
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...[truncated]"
}
