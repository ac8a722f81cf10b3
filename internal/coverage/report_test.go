package coverage

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleReport = `<?xml version="1.0"?>
<coverage line-rate="0.8734" branch-rate="0.71" timestamp="1724500000">
  <packages>
    <package name="emmet.core" line-rate="0.91"/>
    <package name="emmet.builders" line-rate="0.82"/>
  </packages>
</coverage>`

func TestParse(t *testing.T) {
	report, err := Parse([]byte(sampleReport))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if report.LineRate != 0.8734 {
		t.Fatalf("line-rate = %v", report.LineRate)
	}
	if len(report.Packages) != 2 {
		t.Fatalf("packages = %d", len(report.Packages))
	}
	if report.Packages[0].Name != "emmet.core" || report.Packages[0].LineRate != 0.91 {
		t.Fatalf("package[0] = %+v", report.Packages[0])
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Parse([]byte("<coverage")); err == nil {
		t.Fatalf("expected error for truncated XML")
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coverage.xml")
	if err := os.WriteFile(path, []byte(sampleReport), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	report, err := ParseFile(path)
	if err != nil {
		t.Fatalf("parse file: %v", err)
	}
	if report.BranchRate != 0.71 {
		t.Fatalf("branch-rate = %v", report.BranchRate)
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "absent.xml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
