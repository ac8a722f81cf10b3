package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"trunkgate/internal/engine"
	"trunkgate/internal/gate"
	"trunkgate/internal/run"
	"trunkgate/internal/spec"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	footerStyle  = lipgloss.NewStyle().Bold(true).MarginTop(1)
	blockedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1")).MarginTop(1)
)

type progressMsg engine.Progress

type progressClosedMsg struct{}

type row struct {
	stage    string
	pkg      string
	status   string
	started  time.Time
	duration time.Duration
	failed   int
	advisory int
}

// Model is the live run dashboard: one row per stage execution with its
// status and duration, and the gate outcome in the footer.
type Model struct {
	title    string
	spinner  spinner.Model
	rows     []row
	index    map[string]int
	gate     gate.Decision
	gateSeen bool
	done     bool
	progress <-chan engine.Progress
	cancel   context.CancelFunc
}

// NewModel builds the dashboard for a definition about to execute.
// Progress events arrive on the supplied channel; cancel stops the run
// when the user quits early.
func NewModel(def spec.Definition, progress <-chan engine.Progress, cancel context.CancelFunc) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = warnStyle

	m := Model{
		title:    def.Name,
		spinner:  sp,
		index:    make(map[string]int),
		progress: progress,
		cancel:   cancel,
	}
	for _, stage := range def.Stages {
		for _, pkg := range def.MatrixPackages() {
			m.index[rowKey(stage.Name, pkg)] = len(m.rows)
			m.rows = append(m.rows, row{stage: stage.Name, pkg: pkg, status: run.StagePending})
		}
	}
	return m
}

func rowKey(stage, pkg string) string {
	return stage + "\x00" + pkg
}

// Init starts the spinner and the progress pump.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForProgress(m.progress))
}

func waitForProgress(ch <-chan engine.Progress) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return progressClosedMsg{}
		}
		return progressMsg(p)
	}
}

// Update handles key presses and progress events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		return m, nil

	case progressMsg:
		m.apply(engine.Progress(msg))
		if m.done {
			return m, tea.Quit
		}
		return m, waitForProgress(m.progress)

	case progressClosedMsg:
		m.done = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(p engine.Progress) {
	switch p.Kind {
	case engine.ProgressStageStarted:
		if i, ok := m.index[rowKey(p.Stage, p.Package)]; ok {
			m.rows[i].status = run.StageRunning
			m.rows[i].started = time.Now()
		}
	case engine.ProgressStepFinished:
		if i, ok := m.index[rowKey(p.Stage, p.Package)]; ok {
			switch p.Step.Status {
			case run.StepFailed:
				m.rows[i].failed++
			case run.StepAdvisory:
				m.rows[i].advisory++
			}
		}
	case engine.ProgressStageFinished:
		if i, ok := m.index[rowKey(p.Stage, p.Package)]; ok {
			m.rows[i].status = p.Status
			if !m.rows[i].started.IsZero() {
				m.rows[i].duration = time.Since(m.rows[i].started)
			}
		}
	case engine.ProgressGateDecided:
		m.gate = p.Gate
		m.gateSeen = true
	case engine.ProgressRunFinished:
		m.done = true
	}
}

// View renders the dashboard.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("trunkgate: "+m.title) + "\n\n")

	for _, r := range m.rows {
		label := r.stage
		if r.pkg != "" {
			label += " [" + r.pkg + "]"
		}
		var status string
		switch r.status {
		case run.StagePending:
			status = dimStyle.Render("pending")
		case run.StageRunning:
			status = m.spinner.View() + warnStyle.Render("running")
		case run.StageSucceeded:
			status = passStyle.Render(fmt.Sprintf("succeeded (%s)", r.duration.Round(10*time.Millisecond)))
		case run.StageFailed:
			status = failStyle.Render(fmt.Sprintf("failed (%d failing steps)", r.failed))
		case run.StageCanceled:
			status = dimStyle.Render("canceled")
		default:
			status = r.status
		}
		if r.advisory > 0 {
			status += warnStyle.Render(fmt.Sprintf("  %d advisory", r.advisory))
		}
		fmt.Fprintf(&b, "  %-30s %s\n", label, status)
	}

	if m.gateSeen {
		line := "gate: " + m.gate.State
		if m.gate.Reason != "" {
			line += " (" + m.gate.Reason + ")"
		}
		if m.gate.State == gate.StateApproved {
			b.WriteString(footerStyle.Render(passStyle.Render(line)))
		} else {
			b.WriteString(blockedStyle.Render(line))
		}
		b.WriteString("\n")
	} else if !m.done {
		b.WriteString(dimStyle.Render("\n  press q to cancel\n"))
	}

	return b.String()
}

// Run drives the dashboard until the run completes or the user quits.
func Run(def spec.Definition, progress <-chan engine.Progress, cancel context.CancelFunc) error {
	program := tea.NewProgram(NewModel(def, progress, cancel))
	_, err := program.Run()
	return err
}
