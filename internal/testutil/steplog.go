package testutil

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

// StepLogger provides structured test logging with timestamps.
//
// Output format:
//
//	[2026-03-01 09:00:00.000] STEP 1: Evaluating delete_data
//	  -> Result: dec-001 queued
//	  -> Queue state: 1 live decision(s), 1 audit entr(ies)
type StepLogger struct {
	t     testing.TB
	out   io.Writer
	start time.Time
	n     int
}

// NewStepLogger creates a logger for the given test.
//
// Output goes to stderr when running with -v, otherwise discarded.
func NewStepLogger(t testing.TB) *StepLogger {
	t.Helper()

	var out io.Writer = io.Discard
	if testing.Verbose() {
		out = os.Stderr
	}
	return &StepLogger{t: t, out: out, start: time.Now()}
}

// Step logs the next numbered test step.
func (l *StepLogger) Step(format string, args ...any) {
	l.t.Helper()
	l.n++
	l.write("[%s] STEP %d: %s\n", l.timestamp(), l.n, fmt.Sprintf(format, args...))
}

// Result logs a step result (indented).
func (l *StepLogger) Result(format string, args ...any) {
	l.t.Helper()
	l.write("  -> Result: %s\n", fmt.Sprintf(format, args...))
}

// QueueState logs live queue and audit trail sizes.
func (l *StepLogger) QueueState(live, audit int) {
	l.t.Helper()
	l.write("  -> Queue state: %d live decision(s), %d audit entr(ies)\n", live, audit)
}

// Info logs an informational message.
func (l *StepLogger) Info(format string, args ...any) {
	l.t.Helper()
	l.write("[%s] INFO: %s\n", l.timestamp(), fmt.Sprintf(format, args...))
}

// Error logs an error message.
func (l *StepLogger) Error(format string, args ...any) {
	l.t.Helper()
	l.write("[%s] ERROR: %s\n", l.timestamp(), fmt.Sprintf(format, args...))
}

// Expected logs an expected vs actual comparison.
func (l *StepLogger) Expected(what string, expected, actual any, ok bool) {
	l.t.Helper()
	mark := "X"
	if ok {
		mark = "OK"
	}
	l.write("  -> Expected %s: %v, got %v [%s]\n", what, expected, actual, mark)
}

// Elapsed logs elapsed wall time since start.
func (l *StepLogger) Elapsed() {
	l.t.Helper()
	l.write("[%s] Elapsed: %s\n", l.timestamp(), time.Since(l.start).Round(time.Millisecond))
}

func (l *StepLogger) timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05.000")
}

func (l *StepLogger) write(format string, args ...any) {
	fmt.Fprintf(l.out, format, args...)
}

// LogBuffer captures log output line by line. Safe for concurrent writers.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
}

// NewLogBuffer creates a buffer for capturing logs.
func NewLogBuffer() *LogBuffer {
	return &LogBuffer{}
}

// Write implements io.Writer.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		b.lines = append(b.lines, line)
	}
	return len(p), nil
}

// Lines returns a copy of the captured lines.
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

// Contains reports whether any captured line contains substr.
func (b *LogBuffer) Contains(substr string) bool {
	for _, line := range b.Lines() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// Clear removes all captured lines.
func (b *LogBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = nil
}
