package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/onionwire/onionwire/internal/model"
)

// JSONWriter outputs the status in JSON format.
// This format is designed for machine processing and scripting.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed output.
	indent bool
}

// JSONOption configures a JSONWriter instance.
type JSONOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
func WithIndent() JSONOption {
	return func(w *JSONWriter) {
		w.indent = true
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter: newBaseWriter(output),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the status as JSON followed by a newline.
func (w *JSONWriter) Write(status *model.NodeStatus) (int, error) {
	var data []byte
	var err error
	if w.indent {
		data, err = json.MarshalIndent(status, "", "  ")
	} else {
		data, err = json.Marshal(status)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to serialize status: %w", err)
	}

	return w.output.Write(append(data, '\n'))
}
