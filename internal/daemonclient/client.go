// Package daemonclient is a bearer-authenticated HTTP client for the
// in-container daemon that actually runs agent CLIs on the Hub's behalf.
package daemonclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Client talks to one drone's in-container daemon over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client for the daemon reachable at baseURL (typically
// http://127.0.0.1:<hostPort>).
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon request failed: %w", err)
	}
	if out != nil {
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resp, fmt.Errorf("decode daemon response: %w", err)
			}
		}
	}
	return resp, nil
}

// Status probes daemon readiness. A successful call means the daemon is
// up and accepting requests.
func (c *Client) Status(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/status", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon status returned %d", resp.StatusCode)
	}
	return nil
}

// WaitForReady polls Status with jittered exponential backoff (250ms
// base) until it succeeds or deadline elapses, per spec.md §4.4's
// waitForDaemonReady.
func (c *Client) WaitForReady(ctx context.Context, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	operation := func() (struct{}, error) {
		if err := c.Status(ctx); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo))
	if err != nil {
		return fmt.Errorf("daemon did not become ready within %s: %w", deadline, err)
	}
	return nil
}

// PromptEnqueueRequest submits a prompt for execution.
type PromptEnqueueRequest struct {
	ID   string   `json:"id"`
	Kind string   `json:"kind"`
	Cmd  string   `json:"cmd"`
	Args []string `json:"args"`
}

// ErrDaemonOutdated signals the daemon returned 404 to promptEnqueue,
// meaning it predates this endpoint and must be upgraded before retrying.
var ErrDaemonOutdated = fmt.Errorf("daemon does not support prompt enqueue; upgrade required")

// PromptEnqueue submits a prompt job, non-blocking. A 404 response maps
// to ErrDaemonOutdated so callers can upgradeDaemon and retry once.
func (c *Client) PromptEnqueue(ctx context.Context, req PromptEnqueueRequest) error {
	resp, err := c.do(ctx, http.MethodPost, "/prompts", req, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrDaemonOutdated
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("daemon prompt enqueue returned %d", resp.StatusCode)
	}
	return nil
}

// Job is the in-container daemon's view of a submitted prompt.
type Job struct {
	State      string `json:"state"` // queued | running | done | failed
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"startedAt,omitempty"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

type promptGetResponse struct {
	Job Job `json:"job"`
}

// PromptGet fetches the current state of a previously enqueued prompt.
func (c *Client) PromptGet(ctx context.Context, id string) (Job, error) {
	var out promptGetResponse
	resp, err := c.do(ctx, http.MethodGet, "/prompts/"+id, nil, &out)
	if err != nil {
		return Job{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Job{}, fmt.Errorf("prompt %s: %w", id, errPromptNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Job{}, fmt.Errorf("daemon prompt get returned %d", resp.StatusCode)
	}
	return out.Job, nil
}

var errPromptNotFound = fmt.Errorf("prompt not found")

// IsPromptNotFound reports whether err indicates the daemon has no record
// of the given prompt id (used by the Reconciliation Pipeline's staleness
// check).
func IsPromptNotFound(err error) bool {
	return errors.Is(err, errPromptNotFound)
}

// TerminalInput sends raw bytes as input to a terminal session.
func (c *Client) TerminalInput(ctx context.Context, session string, data []byte) error {
	resp, err := c.do(ctx, http.MethodPost, "/terminal/"+session+"/input", map[string]string{"data": string(data)}, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("daemon terminal input returned %d", resp.StatusCode)
	}
	return nil
}

// TerminalOutputResult is one poll of buffered terminal output.
type TerminalOutputResult struct {
	Text       string `json:"text"`
	NextOffset int64  `json:"nextOffset"`
}

// TerminalOutput performs a single bounded poll for buffered output.
func (c *Client) TerminalOutput(ctx context.Context, session string, since int64, max int) (TerminalOutputResult, error) {
	var out TerminalOutputResult
	path := fmt.Sprintf("/terminal/%s/output?since=%d&max=%d", session, since, max)
	resp, err := c.do(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return TerminalOutputResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TerminalOutputResult{}, fmt.Errorf("daemon terminal output returned %d", resp.StatusCode)
	}
	return out, nil
}
