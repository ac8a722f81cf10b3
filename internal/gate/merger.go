package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"trunkgate/internal/event"
)

// HTTPMerger performs the merge action against a forge's pull request
// merge endpoint. Its token is injected here only and never logged.
type HTTPMerger struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPMerger builds a merger for the given forge endpoint.
func NewHTTPMerger(baseURL, token string) *HTTPMerger {
	return &HTTPMerger{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Merge puts the merge request for the pull request the event refers to.
func (m *HTTPMerger) Merge(ctx context.Context, ev event.Event) error {
	if ev.Kind != event.PullRequest || ev.Number <= 0 {
		return fmt.Errorf("merge requires a pull request event")
	}

	body, err := json.Marshal(map[string]string{
		"sha":          ev.HeadSHA,
		"merge_method": "merge",
	})
	if err != nil {
		return fmt.Errorf("encode merge request: %w", err)
	}

	url := fmt.Sprintf("%s/pulls/%d/merge", m.BaseURL, ev.Number)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build merge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.Token != "" {
		req.Header.Set("Authorization", "Bearer "+m.Token)
	}

	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("merge pull request #%d: %w", ev.Number, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("forge rejected merge of #%d: %s", ev.Number, resp.Status)
	}
	return nil
}
