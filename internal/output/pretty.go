package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"trunkgate/internal/run"
	"trunkgate/internal/spec"
)

var (
	stageStyle    = lipgloss.NewStyle().Bold(true)
	passStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	advisoryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	skipStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	gateStyle     = lipgloss.NewStyle().Bold(true).Underline(true)
)

// PrettyRenderer renders pipeline state in a human-friendly format.
type PrettyRenderer struct {
	out io.Writer
}

// NewPretty creates a PrettyRenderer writing to the provided writer.
func NewPretty(out io.Writer) *PrettyRenderer {
	return &PrettyRenderer{out: out}
}

// RenderList renders pipeline definitions with their stages and steps.
func (p *PrettyRenderer) RenderList(defs []spec.Definition) error {
	for _, def := range defs {
		if _, err := fmt.Fprintf(p.out, "Pipeline %s\n", decorateName(def.Name, def.Path)); err != nil {
			return err
		}
		for _, stage := range def.Stages {
			label := stage.Name
			if !stage.Required {
				label += " (optional)"
			}
			if stage.Runtime != "" {
				label += " [" + stage.Runtime + "]"
			}
			if _, err := fmt.Fprintf(p.out, "  Stage %s\n", stageStyle.Render(label)); err != nil {
				return err
			}
			for _, step := range stage.Steps {
				tag := string(step.Kind)
				if step.Policy != spec.PolicyFatal {
					tag += ", " + string(step.Policy)
				}
				if _, err := fmt.Fprintf(p.out, "    • %s (%s)\n", step.Name, tag); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// RenderRun shows a completed run: per-stage blocks, failure tails, the
// gate outcome, and a summary line.
func (p *PrettyRenderer) RenderRun(r *run.Run) error {
	fmt.Fprintf(p.out, "Run %s (%s)\n", r.ID, r.Event.String())
	for _, stage := range r.Stages {
		header := stage.Name
		if stage.Package != "" {
			header += " [" + stage.Package + "]"
		}
		fmt.Fprintf(p.out, "  Stage %s %s (%s)\n", stageStyle.Render(header), stageGlyph(stage.Status), formatDuration(stage.Duration))
		for _, step := range stage.Steps {
			fmt.Fprintf(p.out, "    %s %s (%s)\n", statusGlyph(step.Status), step.StepName, formatDuration(step.Duration))
			if step.Findings > 0 {
				fmt.Fprintf(p.out, "      findings: %d (advisory)\n", step.Findings)
			}
			for _, failure := range step.Failures {
				fmt.Fprintf(p.out, "      %s\n", failure)
			}
			if step.Status == run.StepFailed {
				if step.Failure != nil {
					fmt.Fprintf(p.out, "      %s: %s\n", step.Failure.Class, indent(step.Failure.Message, "      "))
				} else if step.Stderr != "" {
					fmt.Fprintf(p.out, "      stderr: %s\n", indent(step.Stderr, "      "))
				}
			}
		}
		for _, warn := range stage.Warnings {
			fmt.Fprintf(p.out, "    warning: %s\n", warn)
		}
	}

	gateLine := fmt.Sprintf("GATE: %s", r.GateState)
	if r.GateReason != "" {
		gateLine += " (" + r.GateReason + ")"
	}
	if r.Merged {
		gateLine += " — merged"
	}
	if r.MergeError != "" {
		gateLine += " — merge failed: " + r.MergeError
	}
	fmt.Fprintln(p.out, gateStyle.Render(gateLine))

	s := r.Summary
	fmt.Fprintf(p.out, "SUMMARY: %d passed, %d failed, %d advisory, %d skipped (%s)\n",
		s.Passed, s.Failed, s.Advisory, s.Skipped, formatDuration(s.Duration))
	return nil
}

func stageGlyph(status string) string {
	switch status {
	case run.StageSucceeded:
		return passStyle.Render("succeeded")
	case run.StageFailed:
		return failStyle.Render("failed")
	case run.StageCanceled:
		return skipStyle.Render("canceled")
	default:
		return status
	}
}

func statusGlyph(status string) string {
	switch status {
	case run.StepPassed:
		return passStyle.Render("✓")
	case run.StepFailed:
		return failStyle.Render("✗")
	case run.StepAdvisory:
		return advisoryStyle.Render("!")
	case run.StepSkipped, run.StepCanceled:
		return skipStyle.Render("-")
	default:
		return "?"
	}
}

func decorateName(name, path string) string {
	if name == "" {
		return path
	}
	if path == "" || name == path {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, path)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(10 * time.Millisecond).String()
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= 1 {
		return s
	}
	return strings.Join(lines, "\n"+prefix)
}
