package run

import (
	"time"

	"trunkgate/internal/event"
	"trunkgate/internal/spec"
)

// Step statuses.
const (
	StepPassed   = "passed"
	StepFailed   = "failed"
	StepAdvisory = "advisory"
	StepSkipped  = "skipped"
	StepCanceled = "canceled"
)

// Stage statuses. Succeeded, failed and canceled are terminal.
const (
	StagePending   = "pending"
	StageRunning   = "running"
	StageSucceeded = "succeeded"
	StageFailed    = "failed"
	StageCanceled  = "canceled"
)

// Failure classes, assigned from the step kind that produced them.
const (
	ClassInstallation = "InstallationError"
	ClassStyle        = "StyleViolation"
	ClassLint         = "LintError"
	ClassTypeCheck    = "TypeCheckError"
	ClassComplexity   = "ComplexityWarning"
	ClassTest         = "TestFailure"
	ClassUpload       = "UploadError"
	ClassBuild        = "BuildError"
	ClassStep         = "StepError"
)

// Failure is a classified step failure with its source location.
type Failure struct {
	Class   string `json:"class"`
	Stage   string `json:"stage"`
	Step    string `json:"step"`
	Message string `json:"message"`
}

// StepResult captures the outcome of a single step.
type StepResult struct {
	StageName  string        `json:"stage_name"`
	Package    string        `json:"package,omitempty"`
	StepName   string        `json:"step_name"`
	StepRun    string        `json:"step_run,omitempty"`
	Kind       spec.Kind     `json:"kind"`
	Policy     spec.Policy   `json:"policy"`
	Status     string        `json:"status"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Stdout     string        `json:"stdout,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	ExitCode   int           `json:"exit_code"`
	Findings   int           `json:"findings,omitempty"`
	Failures   []string      `json:"failures,omitempty"`
	Failure    *Failure      `json:"failure,omitempty"`
	DryRun     bool          `json:"dry_run,omitempty"`
}

// StageExecution is one stage instance bound to a package, with its own
// isolated workspace. No state is shared between parallel executions.
type StageExecution struct {
	Name       string        `json:"name"`
	Package    string        `json:"package,omitempty"`
	Required   bool          `json:"required"`
	Runtime    string        `json:"runtime,omitempty"`
	Status     string        `json:"status"`
	Workspace  string        `json:"-"`
	Steps      []StepResult  `json:"steps"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Warnings   []string      `json:"warnings,omitempty"`
}

// Terminal reports whether the stage reached a terminal status.
func (s StageExecution) Terminal() bool {
	switch s.Status {
	case StageSucceeded, StageFailed, StageCanceled:
		return true
	}
	return false
}

// Run is one pipeline run: the trigger event, its stage executions, and
// the merge gate's decision.
type Run struct {
	ID         string           `json:"id"`
	Event      event.Event      `json:"event"`
	Pipeline   string           `json:"pipeline"`
	Created    time.Time        `json:"created"`
	Finished   time.Time        `json:"finished,omitempty"`
	Stages     []StageExecution `json:"stages"`
	GateState  string           `json:"gate_state"`
	GateReason string           `json:"gate_reason,omitempty"`
	Merged     bool             `json:"merged"`
	MergeError string           `json:"merge_error,omitempty"`
	Summary    Summary          `json:"summary"`
}

// Summary aggregates run results. ExitCode follows the exit-code
// contract: the AND of required stages' fatal steps, so advisory and
// best-effort findings never drive it non-zero.
type Summary struct {
	TotalStages int           `json:"total_stages"`
	TotalSteps  int           `json:"total_steps"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	Advisory    int           `json:"advisory"`
	Skipped     int           `json:"skipped"`
	Findings    int           `json:"findings"`
	Duration    time.Duration `json:"-"`
	DurationMS  int64         `json:"duration_ms"`
	ExitCode    int           `json:"exit_code"`
}

// Summarize recomputes the run summary from its stage executions.
func (r *Run) Summarize() {
	var s Summary
	s.TotalStages = len(r.Stages)
	for _, stage := range r.Stages {
		s.Duration += stage.Duration
		if stage.Required && stage.Status != StageSucceeded {
			s.ExitCode = 1
		}
		for _, step := range stage.Steps {
			s.TotalSteps++
			s.Findings += step.Findings
			switch step.Status {
			case StepPassed:
				s.Passed++
			case StepFailed:
				s.Failed++
			case StepAdvisory:
				s.Advisory++
			case StepSkipped, StepCanceled:
				s.Skipped++
			}
		}
	}
	s.DurationMS = s.Duration.Milliseconds()
	r.Summary = s
}

// ClassForKind maps a step kind onto the failure class its failures carry.
func ClassForKind(kind spec.Kind) string {
	switch kind {
	case spec.KindInstall, spec.KindSetup, spec.KindCheckout:
		return ClassInstallation
	case spec.KindStyle:
		return ClassStyle
	case spec.KindLint:
		return ClassLint
	case spec.KindComplexity:
		return ClassComplexity
	case spec.KindTypecheck:
		return ClassTypeCheck
	case spec.KindTest:
		return ClassTest
	case spec.KindCoverageUpload:
		return ClassUpload
	case spec.KindDocs:
		return ClassBuild
	default:
		return ClassStep
	}
}
