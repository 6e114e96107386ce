// Package annotator talks to the optional external commit-message
// generator described in spec.md §6: a single POST per call, a hard
// timeout, and a deterministic fallback on any failure.
package annotator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/laszoo/laszoo/internal/errs"
)

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 1 << 20
)

// Client posts diffs to an annotator endpoint and returns a generated
// summary line.
type Client struct {
	Endpoint string
	Model    string
	Timeout  time.Duration

	httpClient *http.Client
}

// New returns a Client for endpoint/model. A zero Timeout uses
// spec.md §4.9's default of 10 seconds.
func New(endpoint, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		Endpoint: endpoint,
		Model:    model,
		Timeout:  timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Summarize posts diff as the prompt and returns the annotator's response
// text. Any failure — network error, non-2xx status, malformed body, or
// empty response — is reported as errs.ErrAnnotatorUnavailable; callers
// are expected to fall back to a deterministic summary rather than treat
// this as fatal (spec.md §4.9: "the log is best-effort").
func (c *Client) Summarize(ctx context.Context, diff string) (string, error) {
	if c.Endpoint == "" {
		return "", fmt.Errorf("%w: no annotator endpoint configured", errs.ErrAnnotatorUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{Model: c.Model, Prompt: diff, Stream: false})
	if err != nil {
		return "", fmt.Errorf("%w: encoding request: %v", errs.ErrAnnotatorUnavailable, err)
	}

	url := c.Endpoint + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: building request: %v", errs.ErrAnnotatorUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrAnnotatorUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", errs.ErrAnnotatorUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: annotator returned status %d", errs.ErrAnnotatorUnavailable, resp.StatusCode)
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: parsing response: %v", errs.ErrAnnotatorUnavailable, err)
	}
	if parsed.Response == "" {
		return "", fmt.Errorf("%w: empty response", errs.ErrAnnotatorUnavailable)
	}

	return parsed.Response, nil
}
