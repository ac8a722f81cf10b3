package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"trunkgate/internal/run"
	"trunkgate/internal/spec"
)

func singleStepStage(step spec.Step) spec.Stage {
	return spec.Stage{Name: "stage", Required: true, Steps: []spec.Step{step}}
}

func fatalStep(name, script string) spec.Step {
	return spec.Step{Name: name, Run: script, Kind: spec.KindGeneric, Policy: spec.PolicyFatal}
}

func TestRunStageSuccess(t *testing.T) {
	r := New(Options{Root: t.TempDir()})
	se := r.RunStage(context.Background(), spec.Definition{}, singleStepStage(fatalStep("step", "echo hi")), "", t.TempDir(), nil)
	if se.Status != run.StageSucceeded {
		t.Fatalf("stage status = %q", se.Status)
	}
	if got := strings.TrimSpace(se.Steps[0].Stdout); got != "hi" {
		t.Fatalf("stdout = %q", got)
	}
}

func TestRunStageFatalFailureAbortsRemainder(t *testing.T) {
	stage := spec.Stage{
		Name:     "stage",
		Required: true,
		Steps: []spec.Step{
			fatalStep("a", "echo first"),
			fatalStep("b", "exit 3"),
			fatalStep("c", "echo never"),
		},
	}
	r := New(Options{Root: t.TempDir()})
	se := r.RunStage(context.Background(), spec.Definition{}, stage, "", t.TempDir(), nil)

	if se.Status != run.StageFailed {
		t.Fatalf("stage status = %q", se.Status)
	}
	if se.Steps[0].Status != run.StepPassed {
		t.Fatalf("step a = %q", se.Steps[0].Status)
	}
	if se.Steps[1].Status != run.StepFailed || se.Steps[1].ExitCode != 3 {
		t.Fatalf("step b = %+v", se.Steps[1])
	}
	if se.Steps[2].Status != run.StepSkipped {
		t.Fatalf("step c after fatal failure = %q", se.Steps[2].Status)
	}
}

func TestAdvisoryStepNeverFailsStage(t *testing.T) {
	// 50 findings above the warning threshold, exit-zero tool.
	step := spec.Step{Name: "complexity", Run: "echo 50", Kind: spec.KindComplexity, Policy: spec.PolicyAdvisory}
	r := New(Options{Root: t.TempDir()})
	se := r.RunStage(context.Background(), spec.Definition{}, singleStepStage(step), "", t.TempDir(), nil)

	if se.Status != run.StageSucceeded {
		t.Fatalf("advisory findings failed the stage: %q", se.Status)
	}
	res := se.Steps[0]
	if res.Status != run.StepAdvisory || res.Findings != 50 {
		t.Fatalf("advisory result = %+v", res)
	}
	if res.Failure == nil || res.Failure.Class != run.ClassComplexity {
		t.Fatalf("advisory classification = %+v", res.Failure)
	}
}

func TestAdvisoryStepNonZeroExitStillPasses(t *testing.T) {
	step := spec.Step{Name: "complexity", Run: "echo 2; exit 1", Kind: spec.KindComplexity, Policy: spec.PolicyAdvisory}
	r := New(Options{Root: t.TempDir()})
	se := r.RunStage(context.Background(), spec.Definition{}, singleStepStage(step), "", t.TempDir(), nil)
	if se.Status != run.StageSucceeded {
		t.Fatalf("advisory non-zero exit failed the stage: %q", se.Status)
	}
}

func TestAdvisoryZeroFindingsPasses(t *testing.T) {
	step := spec.Step{Name: "complexity", Run: "echo 0", Kind: spec.KindComplexity, Policy: spec.PolicyAdvisory}
	r := New(Options{Root: t.TempDir()})
	se := r.RunStage(context.Background(), spec.Definition{}, singleStepStage(step), "", t.TempDir(), nil)
	if se.Steps[0].Status != run.StepPassed || se.Steps[0].Findings != 0 {
		t.Fatalf("clean advisory step = %+v", se.Steps[0])
	}
}

type stubUploader struct {
	err   error
	calls []string
}

func (u *stubUploader) Upload(ctx context.Context, artifact string) error {
	u.calls = append(u.calls, artifact)
	return u.err
}

func coverageStage(testScript string) spec.Stage {
	return spec.Stage{
		Name:     "test",
		Required: true,
		Steps: []spec.Step{
			{Name: "pytest", Run: testScript, Kind: spec.KindTest, Policy: spec.PolicyFatal},
			{Name: "upload", Kind: spec.KindCoverageUpload, Policy: spec.PolicyBestEffort, Coverage: "coverage.xml"},
		},
	}
}

func TestUploadFailureDoesNotFailStage(t *testing.T) {
	workspace := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspace, "coverage.xml"), []byte(`<coverage line-rate="0.9"></coverage>`), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	uploader := &stubUploader{err: errors.New("network unreachable")}
	r := New(Options{Root: t.TempDir(), Uploader: uploader})

	se := r.RunStage(context.Background(), spec.Definition{}, coverageStage("echo tests passed"), "", workspace, nil)
	if se.Status != run.StageSucceeded {
		t.Fatalf("upload failure flipped the stage: %q", se.Status)
	}
	upload := se.Steps[1]
	if upload.Status != run.StepFailed {
		t.Fatalf("upload step = %q", upload.Status)
	}
	if upload.Failure == nil || upload.Failure.Class != run.ClassUpload {
		t.Fatalf("upload classification = %+v", upload.Failure)
	}
	if len(uploader.calls) != 1 {
		t.Fatalf("uploader called %d times", len(uploader.calls))
	}
}

func TestUploadMissingArtifactFailsStepOnly(t *testing.T) {
	uploader := &stubUploader{}
	r := New(Options{Root: t.TempDir(), Uploader: uploader})

	se := r.RunStage(context.Background(), spec.Definition{}, coverageStage("echo ok"), "", t.TempDir(), nil)
	if se.Status != run.StageSucceeded {
		t.Fatalf("missing artifact flipped the stage: %q", se.Status)
	}
	upload := se.Steps[1]
	if upload.Status != run.StepFailed || !strings.Contains(upload.Stderr, "missing") {
		t.Fatalf("upload step = %+v", upload)
	}
	if len(uploader.calls) != 0 {
		t.Fatalf("uploader called despite missing artifact")
	}
}

func TestTestFailuresEnumerated(t *testing.T) {
	script := `printf 'FAILED tests/test_a.py::test_one\nFAILED tests/test_b.py::test_two\n'; exit 1`
	stage := singleStepStage(spec.Step{Name: "pytest", Run: script, Kind: spec.KindTest, Policy: spec.PolicyFatal})
	r := New(Options{Root: t.TempDir()})

	se := r.RunStage(context.Background(), spec.Definition{}, stage, "", t.TempDir(), nil)
	res := se.Steps[0]
	if res.Status != run.StepFailed {
		t.Fatalf("test step = %q", res.Status)
	}
	if len(res.Failures) != 2 {
		t.Fatalf("expected 2 enumerated failures, got %v", res.Failures)
	}
	if res.Failure == nil || res.Failure.Class != run.ClassTest {
		t.Fatalf("classification = %+v", res.Failure)
	}
}

func TestEnvMerge(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("env merge test requires POSIX shell")
	}
	def := spec.Definition{Env: map[string]string{"DEF_VAR": "def"}}
	stage := spec.Stage{
		Name:     "stage",
		Required: true,
		Env:      map[string]string{"STAGE_VAR": "stage"},
		Steps: []spec.Step{
			{
				Name:   "step",
				Run:    `echo "$DEF_VAR-$STAGE_VAR-$STEP_VAR-$TRUNKGATE_PACKAGE"`,
				Kind:   spec.KindGeneric,
				Policy: spec.PolicyFatal,
				Env:    map[string]string{"STEP_VAR": "step"},
			},
		},
	}
	r := New(Options{Root: t.TempDir()})

	se := r.RunStage(context.Background(), def, stage, "emmet-core", t.TempDir(), nil)
	if want := "def-stage-step-emmet-core"; !strings.Contains(se.Steps[0].Stdout, want) {
		t.Fatalf("expected %q in output, got %q", want, se.Steps[0].Stdout)
	}
}

func TestSecretRedaction(t *testing.T) {
	stage := singleStepStage(spec.Step{
		Name:   "leak",
		Run:    "echo token=s3cr3t-value; exit 1",
		Kind:   spec.KindGeneric,
		Policy: spec.PolicyFatal,
	})
	r := New(Options{Root: t.TempDir(), Secrets: []string{"s3cr3t-value"}})

	se := r.RunStage(context.Background(), spec.Definition{}, stage, "", t.TempDir(), nil)
	res := se.Steps[0]
	if strings.Contains(res.Stdout, "s3cr3t-value") || strings.Contains(res.Stderr, "s3cr3t-value") {
		t.Fatalf("secret leaked into captured output: %+v", res)
	}
	if !strings.Contains(res.Stdout, "***") {
		t.Fatalf("expected redaction marker, got %q", res.Stdout)
	}
}

func TestDryRunSkipsSteps(t *testing.T) {
	r := New(Options{DryRun: true})
	se := r.RunStage(context.Background(), spec.Definition{}, singleStepStage(fatalStep("step", "echo hi")), "", t.TempDir(), nil)
	if se.Status != run.StageSucceeded {
		t.Fatalf("dry run stage = %q", se.Status)
	}
	if se.Steps[0].Status != run.StepSkipped || !se.Steps[0].DryRun {
		t.Fatalf("dry run step = %+v", se.Steps[0])
	}
}

func TestCanceledContextCancelsSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(Options{Root: t.TempDir()})
	se := r.RunStage(ctx, spec.Definition{}, singleStepStage(fatalStep("step", "echo hi")), "", t.TempDir(), nil)
	if se.Status != run.StageCanceled {
		t.Fatalf("stage = %q", se.Status)
	}
	if se.Steps[0].Status != run.StepCanceled {
		t.Fatalf("step = %q", se.Steps[0].Status)
	}
}

func TestCancellationAfterLastStepKeepsVerdict(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := New(Options{Root: t.TempDir(), OnStep: func(run.StepResult) { cancel() }})

	se := r.RunStage(ctx, spec.Definition{}, singleStepStage(fatalStep("step", "echo hi")), "", t.TempDir(), nil)
	if se.Status != run.StageSucceeded {
		t.Fatalf("completed stage demoted to %q by late cancellation", se.Status)
	}
	if se.Steps[0].Status != run.StepPassed {
		t.Fatalf("step = %q", se.Steps[0].Status)
	}
}

func TestCancellationMidStageCancelsStage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stage := spec.Stage{
		Name:     "stage",
		Required: true,
		Steps: []spec.Step{
			fatalStep("a", "echo first"),
			fatalStep("b", "echo second"),
		},
	}
	calls := 0
	r := New(Options{Root: t.TempDir(), OnStep: func(run.StepResult) {
		calls++
		if calls == 1 {
			cancel()
		}
	}})

	se := r.RunStage(ctx, spec.Definition{}, stage, "", t.TempDir(), nil)
	if se.Status != run.StageCanceled {
		t.Fatalf("stage = %q", se.Status)
	}
	if se.Steps[0].Status != run.StepPassed {
		t.Fatalf("step a = %q", se.Steps[0].Status)
	}
	if se.Steps[1].Status != run.StepCanceled {
		t.Fatalf("step b = %q", se.Steps[1].Status)
	}
}

func TestWorkspaceIsDefaultWorkingDirectory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("working directory test uses POSIX commands")
	}
	workspace := t.TempDir()
	r := New(Options{Root: t.TempDir()})
	se := r.RunStage(context.Background(), spec.Definition{}, singleStepStage(fatalStep("pwd", "pwd")), "", workspace, nil)
	got := strings.TrimSpace(se.Steps[0].Stdout)
	resolved, err := filepath.EvalSymlinks(workspace)
	if err != nil {
		resolved = workspace
	}
	if got != workspace && got != resolved {
		t.Fatalf("working directory = %q, want workspace %q", got, workspace)
	}
}

func TestTailLines(t *testing.T) {
	if got := tailLines("1\n2\n3\n4\n", 2); got != "3\n4" {
		t.Fatalf("tailLines = %q", got)
	}
	if got := tailLines("short", 5); got != "short" {
		t.Fatalf("tailLines short = %q", got)
	}
}

func TestParseFindings(t *testing.T) {
	cases := []struct {
		stdout string
		want   int
	}{
		{"src/a.py:1: C901 too complex\n12\n", 12},
		{"0\n", 0},
		{"no count here\n", 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := parseFindings(tc.stdout); got != tc.want {
			t.Fatalf("parseFindings(%q) = %d, want %d", tc.stdout, got, tc.want)
		}
	}
}
