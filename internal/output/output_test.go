package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"trunkgate/internal/event"
	"trunkgate/internal/run"
	"trunkgate/internal/spec"
)

func sampleRun() *run.Run {
	r := &run.Run{
		ID:       "run-1",
		Event:    event.Event{Kind: event.PullRequest, Branch: "main", Number: 12, Author: "dependabot[bot]"},
		Pipeline: "validation",
		Stages: []run.StageExecution{
			{
				Name:     "checks",
				Required: true,
				Status:   run.StageSucceeded,
				Steps: []run.StepResult{
					{StepName: "lint", Kind: spec.KindLint, Policy: spec.PolicyFatal, Status: run.StepPassed},
					{StepName: "complexity", Kind: spec.KindComplexity, Policy: spec.PolicyAdvisory, Status: run.StepAdvisory, Findings: 7},
				},
			},
			{
				Name:     "test",
				Required: true,
				Status:   run.StageFailed,
				Steps: []run.StepResult{
					{
						StepName: "pytest",
						Kind:     spec.KindTest,
						Policy:   spec.PolicyFatal,
						Status:   run.StepFailed,
						Failures: []string{"FAILED tests/test_a.py::test_one"},
						Failure:  &run.Failure{Class: run.ClassTest, Stage: "test", Step: "pytest", Message: "1 failed"},
					},
				},
			},
		},
		GateState:  "blocked",
		GateReason: `stage "test" failed`,
	}
	r.Summarize()
	return r
}

func TestRenderRunPretty(t *testing.T) {
	var buf bytes.Buffer
	if err := NewPretty(&buf).RenderRun(sampleRun()); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Run run-1",
		"checks",
		"findings: 7 (advisory)",
		"FAILED tests/test_a.py::test_one",
		"TestFailure: 1 failed",
		"GATE: blocked",
		"SUMMARY: 1 passed, 1 failed, 1 advisory, 0 skipped",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderListPretty(t *testing.T) {
	defs := []spec.Definition{
		{
			Name: "validation",
			Path: ".trunkgate/validation.yml",
			Stages: []spec.Stage{
				{
					Name:     "checks",
					Runtime:  "python@3.11",
					Required: true,
					Steps: []spec.Step{
						{Name: "lint", Kind: spec.KindLint, Policy: spec.PolicyFatal},
						{Name: "complexity", Kind: spec.KindComplexity, Policy: spec.PolicyAdvisory},
					},
				},
				{Name: "bench", Required: false},
			},
		},
	}

	var buf bytes.Buffer
	if err := NewPretty(&buf).RenderList(defs); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"validation (.trunkgate/validation.yml)",
		"[python@3.11]",
		"lint (lint)",
		"complexity (complexity, advisory)",
		"bench (optional)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	report := Report{Run: sampleRun(), Warnings: []string{"python version mismatch"}}
	if err := NewJSON(&buf).Render(report); err != nil {
		t.Fatalf("render: %v", err)
	}

	var decoded Report
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if decoded.Run == nil || decoded.Run.ID != "run-1" {
		t.Fatalf("run = %+v", decoded.Run)
	}
	if decoded.Run.Summary.ExitCode != 1 {
		t.Fatalf("exit code = %d", decoded.Run.Summary.ExitCode)
	}
	if len(decoded.Warnings) != 1 {
		t.Fatalf("warnings = %v", decoded.Warnings)
	}
}

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(250 * time.Millisecond); got != "250ms" {
		t.Fatalf("formatDuration = %q", got)
	}
	if got := formatDuration(1500 * time.Millisecond); got != "1.5s" {
		t.Fatalf("formatDuration = %q", got)
	}
}
