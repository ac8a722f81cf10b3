package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"trunkgate/internal/coverage"
	"trunkgate/internal/run"
	"trunkgate/internal/spec"
)

// Uploader sends a coverage artifact to the external aggregation service.
type Uploader interface {
	Upload(ctx context.Context, artifact string) error
}

// Options configure how the runner executes stage steps.
type Options struct {
	Root      string
	Stdout    io.Writer
	Stderr    io.Writer
	Verbose   bool
	DryRun    bool
	TailLines int
	Env       []string
	Secrets   []string
	Now       func() time.Time
	Uploader  Uploader

	// OnStep, when set, observes each finished step.
	OnStep func(run.StepResult)
}

// Runner executes the steps of one stage execution sequentially.
type Runner struct {
	opts Options
}

// New creates a runner with the supplied options.
func New(opts Options) *Runner {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.TailLines <= 0 {
		opts.TailLines = 20
	}
	if opts.Env == nil {
		opts.Env = os.Environ()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{opts: opts}
}

// RunStage executes every step of the stage in declared order inside the
// supplied workspace. The first failing fatal step aborts the remainder;
// advisory and best-effort failures never fail the stage. The stage
// verdict is the AND of its fatal steps.
func (r *Runner) RunStage(ctx context.Context, def spec.Definition, stage spec.Stage, pkg, workspace string, extra map[string]string) run.StageExecution {
	se := run.StageExecution{
		Name:      stage.Name,
		Package:   pkg,
		Required:  stage.Required,
		Runtime:   stage.Runtime,
		Status:    run.StageRunning,
		Workspace: workspace,
	}

	stageStart := r.opts.Now()
	aborted := false
	canceled := false
	for _, step := range stage.Steps {
		result := run.StepResult{
			StageName: stage.Name,
			Package:   pkg,
			StepName:  step.Name,
			StepRun:   step.Run,
			Kind:      step.Kind,
			Policy:    step.Policy,
			DryRun:    r.opts.DryRun,
		}

		switch {
		case aborted:
			result.Status = run.StepSkipped
		case canceled || ctx.Err() != nil:
			result.Status = run.StepCanceled
		case r.opts.DryRun:
			result.Status = run.StepSkipped
		default:
			r.runStep(ctx, def, stage, step, pkg, workspace, extra, &result)
		}

		if result.Status == run.StepCanceled {
			canceled = true
		}
		if result.Status == run.StepFailed && step.Policy == spec.PolicyFatal {
			aborted = true
		}

		se.Steps = append(se.Steps, result)
		if r.opts.OnStep != nil {
			r.opts.OnStep(result)
		}
	}

	// The stage is canceled only when cancellation actually reached a
	// step; a stage whose steps all finished keeps its own verdict even
	// if the context ended afterwards.
	switch {
	case canceled:
		se.Status = run.StageCanceled
	case aborted:
		se.Status = run.StageFailed
	default:
		se.Status = run.StageSucceeded
	}
	se.Duration = r.opts.Now().Sub(stageStart)
	se.DurationMS = se.Duration.Milliseconds()
	return se
}

func (r *Runner) runStep(ctx context.Context, def spec.Definition, stage spec.Stage, step spec.Step, pkg, workspace string, extra map[string]string, result *run.StepResult) {
	start := r.opts.Now()
	defer func() {
		result.Duration = r.opts.Now().Sub(start)
		result.DurationMS = result.Duration.Milliseconds()
	}()

	if step.Kind == spec.KindCoverageUpload && step.Run == "" {
		r.runUpload(ctx, step, workspace, result)
		return
	}

	err := r.execStep(ctx, def, stage, step, pkg, workspace, extra, result)
	result.Stdout = redact(result.Stdout, r.opts.Secrets)
	result.Stderr = redact(result.Stderr, r.opts.Secrets)

	switch step.Policy {
	case spec.PolicyAdvisory:
		// Advisory findings are counted and reported, never blocking.
		result.Findings = parseFindings(result.Stdout)
		if err != nil || result.Findings > 0 {
			result.Status = run.StepAdvisory
			result.Failure = classify(stage, step, result, advisoryMessage(result))
		} else {
			result.Status = run.StepPassed
		}
		return
	default:
		if err != nil {
			if ctx.Err() != nil {
				// The command was killed by cancellation, not by its
				// own failure.
				result.Status = run.StepCanceled
				return
			}
			result.Status = run.StepFailed
			result.Stderr = tailLines(result.Stderr, r.opts.TailLines)
			result.Stdout = tailLines(result.Stdout, r.opts.TailLines)
			if step.Kind == spec.KindTest {
				result.Failures = failingTests(result.Stdout)
			}
			result.Failure = classify(stage, step, result, failureMessage(result))
			return
		}
		result.Status = run.StepPassed
	}
}

// runUpload performs the coverage upload through the injected uploader.
// The artifact must exist before upload is attempted; either a missing
// artifact or a rejected request fails this step only.
func (r *Runner) runUpload(ctx context.Context, step spec.Step, workspace string, result *run.StepResult) {
	artifact := step.Coverage
	if artifact != "" && !filepath.IsAbs(artifact) {
		artifact = filepath.Join(workspace, artifact)
	}
	if artifact == "" {
		result.Status = run.StepFailed
		result.Stderr = "no coverage artifact declared"
		result.Failure = &run.Failure{Class: run.ClassUpload, Stage: result.StageName, Step: step.Name, Message: "no coverage artifact declared"}
		return
	}
	if _, err := os.Stat(artifact); err != nil {
		result.Status = run.StepFailed
		result.Stderr = fmt.Sprintf("coverage artifact %q missing", step.Coverage)
		result.Failure = &run.Failure{Class: run.ClassUpload, Stage: result.StageName, Step: step.Name, Message: result.Stderr}
		return
	}
	if r.opts.Uploader == nil {
		result.Status = run.StepSkipped
		result.Stderr = "no coverage service configured"
		return
	}
	if err := r.opts.Uploader.Upload(ctx, artifact); err != nil {
		result.Status = run.StepFailed
		result.Stderr = redact(err.Error(), r.opts.Secrets)
		result.Failure = &run.Failure{Class: run.ClassUpload, Stage: result.StageName, Step: step.Name, Message: result.Stderr}
		return
	}
	result.Status = run.StepPassed
}

func (r *Runner) execStep(ctx context.Context, def spec.Definition, stage spec.Stage, step spec.Step, pkg, workspace string, extra map[string]string, result *run.StepResult) error {
	env := mergeEnv(r.opts.Env, def.Env, stage.Env, step.Env, extra)
	if pkg != "" {
		env = mergeEnv(env, map[string]string{"TRUNKGATE_PACKAGE": pkg})
	}

	cmdArgs, err := buildCommand(step, stage, def)
	if err != nil {
		result.Stderr = err.Error()
		result.ExitCode = 127
		return err
	}

	workingDir, err := resolveWorkingDirectory(r.opts.Root, workspace, def, stage, step)
	if err != nil {
		result.Stderr = err.Error()
		result.ExitCode = 127
		return err
	}

	cmd := exec.CommandContext(ctx, cmdArgs[0], cmdArgs[1:]...)
	cmd.Dir = workingDir
	cmd.Env = env

	var stdoutBuf, stderrBuf strings.Builder
	if r.opts.Verbose {
		cmd.Stdout = io.MultiWriter(r.opts.Stdout, &stdoutBuf)
		cmd.Stderr = io.MultiWriter(r.opts.Stderr, &stderrBuf)
	} else {
		cmd.Stdout = &stdoutBuf
		cmd.Stderr = &stderrBuf
	}

	err = cmd.Run()
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()
	result.ExitCode = exitCode(err)
	return err
}

func buildCommand(step spec.Step, stage spec.Stage, def spec.Definition) ([]string, error) {
	shell := strings.TrimSpace(step.Shell)
	if shell == "" {
		shell = strings.TrimSpace(stage.Defaults.Shell)
	}
	if shell == "" {
		shell = strings.TrimSpace(def.Defaults.Shell)
	}
	return commandArgs(shell, step.Run)
}

func commandArgs(shellSpec, script string) ([]string, error) {
	if script == "" {
		return nil, fmt.Errorf("empty run command")
	}
	if shellSpec == "" {
		if runtime.GOOS == "windows" {
			return []string{"cmd", "/C", script}, nil
		}
		return []string{"bash", "-c", script}, nil
	}

	fields := strings.Fields(shellSpec)
	shell := fields[0]
	args := append([]string{}, fields[1:]...)
	base := strings.ToLower(filepath.Base(shell))

	switch base {
	case "bash", "zsh", "ksh", "sh", "fish":
		args = append(args, "-c", script)
		return append([]string{shell}, args...), nil
	case "cmd", "cmd.exe":
		args = append(args, "/C", script)
		return append([]string{shell}, args...), nil
	case "pwsh", "powershell", "powershell.exe":
		args = append(args, "-Command", script)
		return append([]string{shell}, args...), nil
	case "python", "python3", "python.exe":
		args = append(args, "-c", script)
		return append([]string{shell}, args...), nil
	default:
		args = append(args, script)
		return append([]string{shell}, args...), nil
	}
}

func resolveWorkingDirectory(root, workspace string, def spec.Definition, stage spec.Stage, step spec.Step) (string, error) {
	candidates := []string{step.WorkingDirectory, stage.Defaults.WorkingDirectory, def.Defaults.WorkingDirectory}
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(root, candidate)
		}
		info, err := os.Stat(candidate)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("working directory %q not found", candidate)
			}
			return "", fmt.Errorf("stat working directory %q: %w", candidate, err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("working directory %q is not a directory", candidate)
		}
		return candidate, nil
	}
	if workspace != "" {
		return workspace, nil
	}
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
	}
	return root, nil
}

func mergeEnv(base []string, overlays ...map[string]string) []string {
	envMap := make(map[string]string, len(base)+len(overlays)*4)
	for _, kv := range base {
		if idx := strings.Index(kv, "="); idx != -1 {
			key := kv[:idx]
			envMap[key] = kv[idx+1:]
		}
	}
	for _, overlay := range overlays {
		for k, v := range overlay {
			envMap[k] = v
		}
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, envMap[k]))
	}
	return out
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(interface{ ExitStatus() int }); ok {
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return 1
}

func tailLines(input string, maxLines int) string {
	if input == "" {
		return ""
	}
	lines := strings.Split(strings.TrimRight(input, "\n"), "\n")
	if len(lines) <= maxLines {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-maxLines:], "\n")
}

func classify(stage spec.Stage, step spec.Step, result *run.StepResult, message string) *run.Failure {
	return &run.Failure{
		Class:   run.ClassForKind(step.Kind),
		Stage:   stage.Name,
		Step:    step.Name,
		Message: message,
	}
}

func failureMessage(result *run.StepResult) string {
	msg := strings.TrimSpace(result.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(lastLine(result.Stdout))
	}
	if msg == "" {
		msg = fmt.Sprintf("exit code %d", result.ExitCode)
	}
	return msg
}

func advisoryMessage(result *run.StepResult) string {
	if result.Findings > 0 {
		return fmt.Sprintf("%d findings above warning threshold", result.Findings)
	}
	return strings.TrimSpace(lastLine(result.Stdout))
}

// parseFindings reads the findings count the advisory tools print as the
// final line of their output (flake8 --count style).
func parseFindings(stdout string) int {
	lines := strings.Split(strings.TrimRight(stdout, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		n, err := strconv.Atoi(line)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// failingTests enumerates individual test failures so reports show which
// tests failed, not just a count.
func failingTests(stdout string) []string {
	var out []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "FAILED ") || strings.HasPrefix(line, "ERROR ") {
			out = append(out, line)
		}
	}
	return out
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}

func redact(s string, secrets []string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, "***")
	}
	return s
}

// VerifyCoverage checks that a test step's declared artifact exists and
// parses. A missing or malformed artifact is a collection failure that is
// reported without changing the test verdict.
func VerifyCoverage(workspace string, step spec.Step) (string, bool) {
	if step.Kind != spec.KindTest || step.Coverage == "" {
		return "", true
	}
	artifact := step.Coverage
	if !filepath.IsAbs(artifact) {
		artifact = filepath.Join(workspace, artifact)
	}
	if _, err := coverage.ParseFile(artifact); err != nil {
		return fmt.Sprintf("coverage collection failed for %q: %v", step.Coverage, err), false
	}
	return "", true
}
