package output

import (
	"encoding/json"
	"io"

	"trunkgate/internal/run"
	"trunkgate/internal/spec"
)

// JSONRenderer emits structured execution data.
type JSONRenderer struct {
	out io.Writer
}

// NewJSON creates a JSON renderer writing to out.
func NewJSON(out io.Writer) *JSONRenderer {
	return &JSONRenderer{out: out}
}

// Report captures the JSON output schema.
type Report struct {
	Pipelines []spec.Definition `json:"pipelines,omitempty"`
	Run       *run.Run          `json:"run,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
}

// Render encodes the report as JSON.
func (j *JSONRenderer) Render(report Report) error {
	enc := json.NewEncoder(j.out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
