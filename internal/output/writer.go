package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.yaml.in/yaml/v3"
)

// Writer encodes values in one format.
type Writer struct {
	format Format
	out    io.Writer
}

// New returns a writer to stdout.
func New(format Format) *Writer {
	return NewWithWriter(format, os.Stdout)
}

// NewWithWriter returns a writer to w.
func NewWithWriter(format Format, w io.Writer) *Writer {
	if format == "" {
		format = FormatText
	}
	return &Writer{format: format, out: w}
}

// Format returns the writer's format.
func (w *Writer) Format() Format { return w.format }

// Out returns the underlying stream for human-mode printing.
func (w *Writer) Out() io.Writer { return w.out }

// Write encodes v. Text mode renders v as YAML, which reads well for nested values.
func (w *Writer) Write(v any) error {
	switch w.format {
	case FormatJSON:
		return writeJSON(w.out, v, true)
	case FormatYAML, FormatText:
		return writeYAML(w.out, v)
	default:
		return fmt.Errorf("unsupported output format %q", w.format)
	}
}

// WriteError encodes err as an ErrorPayload.
func (w *Writer) WriteError(err error, code int) error {
	return w.Write(ErrorPayload{
		Error:   "error",
		Message: err.Error(),
		Details: map[string]any{"code": code},
	})
}

// writeYAML goes through JSON first so json tags (and custom marshalers) drive field names.
func writeYAML(out io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("re-decoding value: %w", err)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("encoding yaml: %w", err)
	}
	return enc.Close()
}
