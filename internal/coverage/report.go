package coverage

import (
	"encoding/xml"
	"fmt"
	"os"
)

// Report is the subset of a Cobertura-style coverage document the
// pipeline inspects before upload.
type Report struct {
	XMLName    xml.Name  `xml:"coverage"`
	LineRate   float64   `xml:"line-rate,attr"`
	BranchRate float64   `xml:"branch-rate,attr"`
	Timestamp  string    `xml:"timestamp,attr"`
	Packages   []Package `xml:"packages>package"`
}

// Package is one covered namespace within the report.
type Package struct {
	Name     string  `xml:"name,attr"`
	LineRate float64 `xml:"line-rate,attr"`
}

// Parse decodes a coverage report from raw XML bytes.
func Parse(data []byte) (Report, error) {
	var report Report
	if err := xml.Unmarshal(data, &report); err != nil {
		return Report{}, fmt.Errorf("parse coverage report: %w", err)
	}
	return report, nil
}

// ParseFile reads and decodes a coverage report from disk.
func ParseFile(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("read coverage report %q: %w", path, err)
	}
	return Parse(data)
}
