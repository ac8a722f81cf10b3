package coverage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// ErrMissingArtifact indicates the coverage artifact did not exist when
// upload was attempted.
var ErrMissingArtifact = errors.New("coverage artifact missing")

// HTTPUploader sends coverage artifacts to an external aggregation
// service. The bearer token is injected here and nowhere else; it is
// never written to logs or captured output.
type HTTPUploader struct {
	URL    string
	Token  string
	Client *http.Client
}

// NewHTTPUploader builds an uploader for the given service endpoint.
func NewHTTPUploader(url, token string) *HTTPUploader {
	return &HTTPUploader{
		URL:    url,
		Token:  token,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Upload posts the artifact body to the aggregation service. A missing
// artifact or a rejected request is an upload failure; the artifact is
// not retained afterwards.
func (u *HTTPUploader) Upload(ctx context.Context, artifact string) error {
	data, err := os.ReadFile(artifact)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %q", ErrMissingArtifact, artifact)
		}
		return fmt.Errorf("read coverage artifact %q: %w", artifact, err)
	}

	if _, err := Parse(data); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")
	if u.Token != "" {
		req.Header.Set("Authorization", "Bearer "+u.Token)
	}

	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("upload coverage report: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("coverage service rejected upload: %s", resp.Status)
	}
	return nil
}
