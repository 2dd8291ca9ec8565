package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tonimelisma/landrive/internal/syncsvc"
	"github.com/tonimelisma/landrive/internal/transfer"
)

// clientTimeout bounds control API calls. Sync runs can move real data, so
// the window is generous.
const clientTimeout = 5 * time.Minute

// Client talks to a running daemon's control API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the daemon at addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		base: "http://" + addr,
		http: &http.Client{Timeout: clientTimeout},
	}
}

// Status fetches the daemon's status report.
func (c *Client) Status(ctx context.Context) (*StatusReport, error) {
	var report StatusReport

	if err := c.do(ctx, http.MethodGet, "/status", nil, &report); err != nil {
		return nil, err
	}

	return &report, nil
}

// Jobs lists the daemon's transfer jobs.
func (c *Client) Jobs(ctx context.Context) ([]transfer.Job, error) {
	var jobs []transfer.Job

	if err := c.do(ctx, http.MethodGet, "/jobs", nil, &jobs); err != nil {
		return nil, err
	}

	return jobs, nil
}

// JobAction pauses, resumes, or cancels a job by id.
func (c *Client) JobAction(ctx context.Context, id, action string) error {
	return c.do(ctx, http.MethodPost, "/jobs/"+id+"/"+action, nil, nil)
}

// Sync triggers a sync run. Nil collections syncs the daemon's outbox.
func (c *Client) Sync(ctx context.Context, collections syncsvc.Collections) (map[syncsvc.EntityType]syncsvc.Outcome, error) {
	var body io.Reader

	if len(collections) > 0 {
		data, err := json.Marshal(collections)
		if err != nil {
			return nil, fmt.Errorf("daemon: encoding collections: %w", err)
		}

		body = bytes.NewReader(data)
	}

	var results map[syncsvc.EntityType]syncsvc.Outcome

	if err := c.do(ctx, http.MethodPost, "/sync", body, &results); err != nil {
		return nil, err
	}

	return results, nil
}

// do performs one API call, decoding a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("daemon: building request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon: %s %s: %w", method, path, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}

		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s %s: %s", method, path, apiErr.Error)
		}

		return fmt.Errorf("daemon: %s %s: HTTP %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("daemon: decoding response: %w", err)
	}

	return nil
}
