package output

import (
	"encoding/json"
	"io"
)

// ErrorPayload is the canonical JSON error shape.
type ErrorPayload struct {
	Error   string `json:"error" yaml:"error"`
	Message string `json:"message" yaml:"message"`
	Details any    `json:"details,omitempty" yaml:"details,omitempty"`
}

func writeJSON(out io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// OutputJSONError writes a structured error payload to stdout.
// The numeric code is included in details for machine handling.
func OutputJSONError(err error, code int) error {
	return New(FormatJSON).WriteError(err, code)
}
