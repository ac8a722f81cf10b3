package gate

import (
	"context"
	"errors"
	"testing"

	"trunkgate/internal/event"
	"trunkgate/internal/run"
)

const bot = "dependabot[bot]"

func stages(checks, test, docs string) []run.StageExecution {
	return []run.StageExecution{
		{Name: "checks", Required: true, Status: checks},
		{Name: "test", Required: true, Status: test},
		{Name: "docs", Required: true, Status: docs},
	}
}

func botPR() event.Event {
	return event.Event{Kind: event.PullRequest, Branch: "main", Number: 12, Author: bot}
}

func TestEvaluateApprovedOnlyOnFullAnd(t *testing.T) {
	cases := []struct {
		name   string
		stages []run.StageExecution
		ev     event.Event
		want   string
	}{
		{
			name:   "all succeeded, bot author",
			stages: stages(run.StageSucceeded, run.StageSucceeded, run.StageSucceeded),
			ev:     botPR(),
			want:   StateApproved,
		},
		{
			name:   "failing test blocks",
			stages: stages(run.StageSucceeded, run.StageFailed, run.StageSucceeded),
			ev:     botPR(),
			want:   StateBlocked,
		},
		{
			name:   "failing docs blocks regardless of lint and test",
			stages: stages(run.StageSucceeded, run.StageSucceeded, run.StageFailed),
			ev:     botPR(),
			want:   StateBlocked,
		},
		{
			name:   "non-bot author blocks",
			stages: stages(run.StageSucceeded, run.StageSucceeded, run.StageSucceeded),
			ev:     event.Event{Kind: event.PullRequest, Branch: "main", Number: 9, Author: "human"},
			want:   StateBlocked,
		},
		{
			name:   "push events are never approved",
			stages: stages(run.StageSucceeded, run.StageSucceeded, run.StageSucceeded),
			ev:     event.Event{Kind: event.Push, Branch: "main"},
			want:   StateBlocked,
		},
		{
			name:   "canceled stage blocks",
			stages: stages(run.StageSucceeded, run.StageCanceled, run.StageSucceeded),
			ev:     botPR(),
			want:   StateBlocked,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.stages, tc.ev, bot)
			if got.State != tc.want {
				t.Fatalf("Evaluate = %q (%s), want %q", got.State, got.Reason, tc.want)
			}
		})
	}
}

func TestEvaluateNeverActivatesEarly(t *testing.T) {
	for _, status := range []string{run.StagePending, run.StageRunning} {
		got := Evaluate(stages(run.StageSucceeded, status, run.StageSucceeded), botPR(), bot)
		if got.State != StateWaiting {
			t.Fatalf("gate activated with a %s stage: %q", status, got.State)
		}
	}
}

func TestEvaluateIgnoresOptionalStages(t *testing.T) {
	all := append(stages(run.StageSucceeded, run.StageSucceeded, run.StageSucceeded),
		run.StageExecution{Name: "bench", Required: false, Status: run.StageFailed})
	got := Evaluate(all, botPR(), bot)
	if got.State != StateApproved {
		t.Fatalf("optional stage failure should not block, got %q (%s)", got.State, got.Reason)
	}
}

func TestEvaluateAdvisoryFindingsDoNotBlock(t *testing.T) {
	// A stage full of advisory findings still succeeds; the gate sees
	// only the stage status.
	noisy := stages(run.StageSucceeded, run.StageSucceeded, run.StageSucceeded)
	noisy[0].Steps = []run.StepResult{{StepName: "complexity", Status: run.StepAdvisory, Findings: 500}}
	got := Evaluate(noisy, botPR(), bot)
	if got.State != StateApproved {
		t.Fatalf("500 advisory findings should not block, got %q", got.State)
	}
}

type recordingMerger struct {
	calls int
	err   error
}

func (m *recordingMerger) Merge(ctx context.Context, ev event.Event) error {
	m.calls++
	return m.err
}

func TestGateDecideTerminal(t *testing.T) {
	g := New(bot, nil)
	if g.State() != StateWaiting {
		t.Fatalf("initial state = %q", g.State())
	}

	d := g.Decide(stages(run.StageSucceeded, run.StageRunning, run.StageSucceeded), botPR())
	if d.State != StateWaiting {
		t.Fatalf("decide before barrier = %q", d.State)
	}

	d = g.Decide(stages(run.StageSucceeded, run.StageSucceeded, run.StageSucceeded), botPR())
	if d.State != StateApproved {
		t.Fatalf("decide = %q, want approved", d.State)
	}

	// Terminal: a later decide with failing stages must not backtrack.
	d = g.Decide(stages(run.StageFailed, run.StageFailed, run.StageFailed), botPR())
	if d.State != StateApproved {
		t.Fatalf("gate backtracked to %q", d.State)
	}
}

func TestGateFiresMergeExactlyOnce(t *testing.T) {
	merger := &recordingMerger{}
	g := New(bot, merger)
	g.Decide(stages(run.StageSucceeded, run.StageSucceeded, run.StageSucceeded), botPR())

	merged, err := g.FireMerge(context.Background(), botPR())
	if err != nil || !merged {
		t.Fatalf("first merge: merged=%v err=%v", merged, err)
	}
	merged, err = g.FireMerge(context.Background(), botPR())
	if err != nil || merged {
		t.Fatalf("second merge should be a no-op: merged=%v err=%v", merged, err)
	}
	if merger.calls != 1 {
		t.Fatalf("merger called %d times", merger.calls)
	}
}

func TestGateBlockedFiresNothing(t *testing.T) {
	merger := &recordingMerger{}
	g := New(bot, merger)
	g.Decide(stages(run.StageSucceeded, run.StageFailed, run.StageSucceeded), botPR())

	merged, err := g.FireMerge(context.Background(), botPR())
	if err != nil || merged {
		t.Fatalf("blocked gate fired: merged=%v err=%v", merged, err)
	}
	if merger.calls != 0 {
		t.Fatalf("merger called %d times for blocked gate", merger.calls)
	}
}

func TestGateMergeFailureDoesNotReopen(t *testing.T) {
	merger := &recordingMerger{err: errors.New("forge rejected")}
	g := New(bot, merger)
	g.Decide(stages(run.StageSucceeded, run.StageSucceeded, run.StageSucceeded), botPR())

	merged, err := g.FireMerge(context.Background(), botPR())
	if err == nil || merged {
		t.Fatalf("expected merge failure, got merged=%v err=%v", merged, err)
	}
	if g.State() != StateApproved {
		t.Fatalf("gate state changed to %q after merge failure", g.State())
	}
	// A retry stays a no-op even after the failure.
	merged, err = g.FireMerge(context.Background(), botPR())
	if err != nil || merged {
		t.Fatalf("retry after failure should be a no-op")
	}
	if merger.calls != 1 {
		t.Fatalf("merger called %d times", merger.calls)
	}
}
