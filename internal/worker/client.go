// Package worker is the local heavy-task worker: it claims jobs from the
// server, runs them through an external command and reports the outcome.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

// Client talks to the server's local job endpoints.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// NewClient creates a Client for baseURL authenticated with secret.
func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Path, e.Status, e.Body)
}

// Claim asks for the next queued job. It returns nil when nothing is queued.
func (c *Client) Claim(ctx context.Context, workerID, flowID string) (*types.LocalJob, error) {
	var resp struct {
		Job *types.LocalJob `json:"job"`
	}
	body := map[string]string{"workerId": workerID}
	if flowID != "" {
		body["flowId"] = flowID
	}
	if err := c.post(ctx, "/assistant/local-jobs/claim", body, &resp); err != nil {
		return nil, err
	}
	return resp.Job, nil
}

// Completion is the outcome reported for a claimed job.
type Completion struct {
	JobID      types.JobID    `json:"jobId"`
	Status     string         `json:"status"`
	OutputText string         `json:"outputText,omitempty"`
	Error      string         `json:"error,omitempty"`
	WorkerID   string         `json:"workerId,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Complete reports a job outcome and returns the updated job.
func (c *Client) Complete(ctx context.Context, in Completion) (*types.LocalJob, error) {
	var resp struct {
		Job *types.LocalJob `json:"job"`
	}
	if err := c.post(ctx, "/assistant/local-jobs/complete", in, &resp); err != nil {
		return nil, err
	}
	return resp.Job, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
