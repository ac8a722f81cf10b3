package event

import (
	"fmt"
	"strings"
	"time"

	"trunkgate/internal/spec"
)

// Kind identifies the repository event that triggered a pipeline run.
type Kind string

const (
	Push        Kind = "push"
	PullRequest Kind = "pull_request"
)

// Event is one trigger received from the repository, either a push to a
// branch or a pull request targeting one.
type Event struct {
	Kind       Kind      `json:"kind"`
	Branch     string    `json:"branch"`
	HeadSHA    string    `json:"head_sha,omitempty"`
	Number     int       `json:"number,omitempty"`
	Author     string    `json:"author,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Key identifies the stream of events this one belongs to. A newer event
// with the same key supersedes the in-flight run for the older one.
func (e Event) Key() string {
	if e.Kind == PullRequest && e.Number > 0 {
		return fmt.Sprintf("pr/%d", e.Number)
	}
	return fmt.Sprintf("%s/%s", e.Kind, e.Branch)
}

// String renders a short human-readable description.
func (e Event) String() string {
	if e.Kind == PullRequest {
		return fmt.Sprintf("pull_request #%d -> %s by %s", e.Number, e.Branch, e.Author)
	}
	return fmt.Sprintf("push %s", e.Branch)
}

// Validate checks that the event carries the fields its kind requires.
func (e Event) Validate() error {
	switch e.Kind {
	case Push:
		if strings.TrimSpace(e.Branch) == "" {
			return fmt.Errorf("push event requires a branch")
		}
	case PullRequest:
		if strings.TrimSpace(e.Branch) == "" {
			return fmt.Errorf("pull_request event requires a target branch")
		}
		if e.Number <= 0 {
			return fmt.Errorf("pull_request event requires a positive number")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// Matches reports whether the trigger filter accepts the event.
func Matches(t spec.Trigger, e Event) bool {
	switch e.Kind {
	case Push:
		return containsBranch(t.PushBranches, e.Branch)
	case PullRequest:
		return containsBranch(t.PullRequestBranches, e.Branch)
	}
	return false
}

func containsBranch(branches []string, branch string) bool {
	for _, b := range branches {
		if b == branch {
			return true
		}
	}
	return false
}
