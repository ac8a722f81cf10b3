package gate

import (
	"context"
	"fmt"

	"trunkgate/internal/event"
	"trunkgate/internal/run"
)

// Gate states. Approved and Blocked are terminal; there is no
// Approved -> Blocked backtracking within one run.
const (
	StateWaiting    = "waiting"
	StateEvaluating = "evaluating"
	StateApproved   = "approved"
	StateBlocked    = "blocked"
)

// Decision is the outcome of evaluating the merge gate.
type Decision struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// Evaluate computes the merge decision as a pure function over the
// terminal stage statuses plus the author identity predicate. It returns
// the Waiting state while any required stage execution is still pending
// or running; the gate must never activate early.
func Evaluate(stages []run.StageExecution, ev event.Event, botLogin string) Decision {
	required := 0
	for _, stage := range stages {
		if !stage.Required {
			continue
		}
		required++
		if !stage.Terminal() {
			return Decision{State: StateWaiting}
		}
	}
	if required == 0 {
		return Decision{State: StateBlocked, Reason: "no required stages"}
	}

	for _, stage := range stages {
		if !stage.Required {
			continue
		}
		if stage.Status != run.StageSucceeded {
			return Decision{State: StateBlocked, Reason: fmt.Sprintf("stage %q %s", stage.Name, stage.Status)}
		}
	}

	if ev.Kind != event.PullRequest {
		return Decision{State: StateBlocked, Reason: "not a pull request"}
	}
	if botLogin == "" || ev.Author != botLogin {
		// Non-bot authors are simply not evaluated for auto-merge.
		return Decision{State: StateBlocked, Reason: "author not recognized for auto-merge"}
	}
	return Decision{State: StateApproved}
}

// Merger performs the external merge action for an approved pull request.
type Merger interface {
	Merge(ctx context.Context, ev event.Event) error
}

// Gate is the barrier joining the required stage executions. It holds the
// terminal, non-retrying state machine and fires the merge action at most
// once per pipeline run.
type Gate struct {
	bot    string
	merger Merger
	state  string
	fired  bool
}

// New creates a gate in the Waiting state.
func New(botLogin string, merger Merger) *Gate {
	return &Gate{bot: botLogin, merger: merger, state: StateWaiting}
}

// State returns the gate's current state.
func (g *Gate) State() string {
	return g.state
}

// Decide transitions the gate given the current stage executions. Called
// before all required stages are terminal it stays Waiting; called after,
// it settles into Approved or Blocked and never changes again.
func (g *Gate) Decide(stages []run.StageExecution, ev event.Event) Decision {
	if g.state == StateApproved || g.state == StateBlocked {
		return Decision{State: g.state}
	}
	g.state = StateEvaluating
	decision := Evaluate(stages, ev, g.bot)
	if decision.State == StateWaiting {
		g.state = StateWaiting
		return decision
	}
	g.state = decision.State
	return decision
}

// FireMerge triggers the external merge action for an approved gate,
// exactly once. A Blocked gate is a silent no-op. Merge failures are
// returned to the caller but do not reopen the gate.
func (g *Gate) FireMerge(ctx context.Context, ev event.Event) (bool, error) {
	if g.state != StateApproved || g.fired {
		return false, nil
	}
	g.fired = true
	if g.merger == nil {
		return false, fmt.Errorf("no merger configured")
	}
	if err := g.merger.Merge(ctx, ev); err != nil {
		return false, err
	}
	return true, nil
}
