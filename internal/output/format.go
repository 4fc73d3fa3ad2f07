// Package output renders hitlctl results as text, JSON or YAML.
package output

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"golang.org/x/term"
)

// Format is an output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a user-supplied format name. "auto" and "" pick text on a
// terminal and JSON otherwise.
func ParseFormat(name string, f *os.File) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return DetectFormat(f), nil
	case "text", "human":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text, json, yaml or auto)", name)
}

// DetectFormat returns text when f is a terminal and JSON when it is piped or redirected.
func DetectFormat(f *os.File) Format {
	if f != nil && term.IsTerminal(int(f.Fd())) {
		return FormatText
	}
	return FormatJSON
}

var outputMode atomic.Value

func init() {
	outputMode.Store(FormatText)
}

// SetOutputMode sets the global output mode used by convenience helpers.
// Prefer passing an explicit Format to New when possible.
func SetOutputMode(f Format) {
	outputMode.Store(f)
}

// GetOutputMode returns the current global output mode.
func GetOutputMode() Format {
	if v, ok := outputMode.Load().(Format); ok {
		return v
	}
	return FormatText
}

// IsJSON returns true if the global output mode is JSON.
func IsJSON() bool {
	return GetOutputMode() == FormatJSON
}
