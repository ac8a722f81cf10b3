package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trunkgate/internal/event"
	"trunkgate/internal/gate"
	"trunkgate/internal/journal"
	"trunkgate/internal/logging"
	"trunkgate/internal/run"
	"trunkgate/internal/runner"
	"trunkgate/internal/spec"
	"trunkgate/internal/version"
)

// Progress kinds emitted while a run executes.
const (
	ProgressRunStarted    = "run-started"
	ProgressStageStarted  = "stage-started"
	ProgressStepFinished  = "step-finished"
	ProgressStageFinished = "stage-finished"
	ProgressGateDecided   = "gate-decided"
	ProgressRunFinished   = "run-finished"
)

// Progress is one live update from an executing run, consumed by
// renderers and the TUI dashboard.
type Progress struct {
	Kind    string
	Stage   string
	Package string
	Status  string
	Step    run.StepResult
	Gate    gate.Decision
}

// Options configure a pipeline engine.
type Options struct {
	Root        string
	Env         []string
	Secrets     []string
	Bot         string
	TailLines   int
	Verbose     bool
	DryRun      bool
	WarnRuntime bool
	Stdout      io.Writer
	Stderr      io.Writer
	Journal     *journal.Journal
	Merger      gate.Merger
	Uploader    runner.Uploader
	Log         logging.Printer
	Now         func() time.Time
	Notify      func(Progress)

	// NewWorkspace provisions an isolated scratch directory for one
	// stage execution. Defaults to a temp directory per stage.
	NewWorkspace func(stage, pkg string) (string, func(), error)
}

// Engine executes pipeline runs: it fans required stage executions out in
// parallel with isolated workspaces, joins them at the merge gate, and
// fires the merge action for approved dependency-bot pull requests.
type Engine struct {
	opts Options
}

// New creates an engine with the supplied options.
func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = logging.Discard
	}
	if opts.NewWorkspace == nil {
		opts.NewWorkspace = tempWorkspace
	}
	return &Engine{opts: opts}
}

func tempWorkspace(stage, pkg string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "trunkgate-"+stage+"-")
	if err != nil {
		return "", nil, fmt.Errorf("provision workspace for stage %q: %w", stage, err)
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// Execute runs the definition for one trigger event and returns the
// completed run. Stage executions share no mutable state and run in any
// interleaving; the only synchronization point is the gate's barrier.
// Cancelling ctx stops in-flight stages between steps and kills running
// commands; the run then finishes with canceled stages and a blocked gate.
func (e *Engine) Execute(ctx context.Context, def spec.Definition, ev event.Event) (*run.Run, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	r := &run.Run{
		ID:        uuid.NewString(),
		Event:     ev,
		Pipeline:  def.Name,
		Created:   e.opts.Now(),
		GateState: gate.StateWaiting,
	}

	e.opts.Log.Printf("run %s started: %s pipeline %q", r.ID, ev, def.Name)
	e.appendJournal(journal.KindRunStarted, r.ID, map[string]string{
		"event":    string(ev.Kind),
		"branch":   ev.Branch,
		"author":   ev.Author,
		"pipeline": def.Name,
	})
	e.notify(Progress{Kind: ProgressRunStarted})

	type slot struct {
		stage spec.Stage
		pkg   string
	}
	var slots []slot
	for _, stage := range def.Stages {
		for _, pkg := range def.MatrixPackages() {
			slots = append(slots, slot{stage: stage, pkg: pkg})
		}
	}

	results := make([]run.StageExecution, len(slots))
	var wg sync.WaitGroup
	for i, s := range slots {
		wg.Add(1)
		go func(i int, s slot) {
			defer wg.Done()
			results[i] = e.runStage(ctx, r.ID, def, s.stage, s.pkg)
		}(i, s)
	}
	wg.Wait()

	sort.SliceStable(results, func(a, b int) bool {
		if results[a].Name != results[b].Name {
			return stageIndex(def, results[a].Name) < stageIndex(def, results[b].Name)
		}
		return results[a].Package < results[b].Package
	})
	r.Stages = results

	g := gate.New(e.opts.Bot, e.opts.Merger)
	decision := g.Decide(r.Stages, ev)
	r.GateState = decision.State
	r.GateReason = decision.Reason
	e.opts.Log.Printf("run %s gate: %s %s", r.ID, decision.State, decision.Reason)
	e.appendJournal(journal.KindGateDecided, r.ID, map[string]string{
		"state":  decision.State,
		"reason": decision.Reason,
	})
	e.notify(Progress{Kind: ProgressGateDecided, Gate: decision})

	if decision.State == gate.StateApproved {
		merged, err := g.FireMerge(ctx, ev)
		r.Merged = merged
		if err != nil {
			r.MergeError = err.Error()
			e.opts.Log.Printf("run %s merge action failed: %v", r.ID, err)
		}
		if merged {
			e.appendJournal(journal.KindMergeFired, r.ID, map[string]string{
				"pr": fmt.Sprintf("%d", ev.Number),
			})
		}
	}

	r.Finished = e.opts.Now()
	r.Summarize()
	e.appendJournal(journal.KindRunFinished, r.ID, map[string]string{
		"gate":      r.GateState,
		"exit_code": fmt.Sprintf("%d", r.Summary.ExitCode),
	})
	e.notify(Progress{Kind: ProgressRunFinished})
	return r, nil
}

func (e *Engine) runStage(ctx context.Context, runID string, def spec.Definition, stage spec.Stage, pkg string) run.StageExecution {
	e.notify(Progress{Kind: ProgressStageStarted, Stage: stage.Name, Package: pkg, Status: run.StageRunning})

	var warnings []string
	if e.opts.WarnRuntime && stage.Runtime != "" {
		if warn := version.Check(stage.Runtime); warn != "" {
			warnings = append(warnings, warn)
		}
	}

	workspace, cleanup, err := e.opts.NewWorkspace(stage.Name, pkg)
	if err != nil {
		se := run.StageExecution{
			Name:     stage.Name,
			Package:  pkg,
			Required: stage.Required,
			Runtime:  stage.Runtime,
			Status:   run.StageFailed,
			Warnings: append(warnings, err.Error()),
		}
		e.finishStage(runID, &se)
		return se
	}
	defer cleanup()

	opts := runner.Options{
		Root:      e.opts.Root,
		Stdout:    e.opts.Stdout,
		Stderr:    e.opts.Stderr,
		Verbose:   e.opts.Verbose,
		DryRun:    e.opts.DryRun,
		TailLines: e.opts.TailLines,
		Env:       e.opts.Env,
		Secrets:   e.opts.Secrets,
		Now:       e.opts.Now,
		Uploader:  e.opts.Uploader,
		OnStep: func(step run.StepResult) {
			e.notify(Progress{Kind: ProgressStepFinished, Stage: stage.Name, Package: pkg, Step: step})
		},
	}
	extra := map[string]string{
		"TRUNKGATE_RUN_ID":    runID,
		"TRUNKGATE_WORKSPACE": workspace,
	}

	se := runner.New(opts).RunStage(ctx, def, stage, pkg, workspace, extra)
	se.Warnings = append(warnings, se.Warnings...)

	// A malformed or missing coverage artifact is reported without
	// retroactively changing test outcomes.
	for _, step := range se.Steps {
		if step.Status != run.StepPassed {
			continue
		}
		stepSpec, ok := findStep(stage, step.StepName)
		if !ok {
			continue
		}
		if warn, ok := runner.VerifyCoverage(workspace, stepSpec); !ok {
			se.Warnings = append(se.Warnings, warn)
		}
	}

	e.finishStage(runID, &se)
	return se
}

func (e *Engine) finishStage(runID string, se *run.StageExecution) {
	e.opts.Log.Printf("stage %q (%s) finished: %s", se.Name, se.Package, se.Status)
	e.appendJournal(journal.KindStageFinished, runID, map[string]string{
		"stage":   se.Name,
		"package": se.Package,
		"status":  se.Status,
	})
	e.notify(Progress{Kind: ProgressStageFinished, Stage: se.Name, Package: se.Package, Status: se.Status})
}

func (e *Engine) appendJournal(kind, runID string, fields map[string]string) {
	if e.opts.Journal == nil {
		return
	}
	if _, err := e.opts.Journal.Append(kind, runID, fields); err != nil {
		e.opts.Log.Printf("journal append failed: %v", err)
	}
}

func (e *Engine) notify(p Progress) {
	if e.opts.Notify != nil {
		e.opts.Notify(p)
	}
}

func stageIndex(def spec.Definition, name string) int {
	for i, stage := range def.Stages {
		if stage.Name == name {
			return i
		}
	}
	return len(def.Stages)
}

func findStep(stage spec.Stage, name string) (spec.Step, bool) {
	for _, step := range stage.Steps {
		if step.Name == name {
			return step, true
		}
	}
	return spec.Step{}, false
}
