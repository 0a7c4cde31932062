// Package primary is the REST adapter for the Primary issue tracker, the
// authoritative side of every sync decision.
package primary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stacksync/stacksync/internal/adapters"
)

// Client is a Primary tracker API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new Primary client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClientWithTimeout creates a Primary client with a per-request timeout.
// Non-positive timeouts fall back to the default 30s.
func NewClientWithTimeout(baseURL, token string, timeout time.Duration) *Client {
	c := NewClient(baseURL, token)
	if timeout > 0 {
		c.httpClient.Timeout = timeout
	}
	return c
}

// NewClientWithHTTP creates a Primary client with a custom HTTP client (for testing).
func NewClientWithHTTP(baseURL, token string, httpClient *http.Client) *Client {
	c := NewClient(baseURL, token)
	c.httpClient = httpClient
	return c
}

// doRequest performs one HTTP request and decodes the JSON response.
// Failures come back classified; transient ones are retried here so the
// orchestrator only sees exhausted retries.
func (c *Client) doRequest(ctx context.Context, op, method, path string, body interface{}, result interface{}) error {
	return adapters.RetryTransient(ctx, 3, func() error {
		return c.doRequestOnce(ctx, op, method, path, body, result)
	})
}

func (c *Client) doRequestOnce(ctx context.Context, op, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return adapters.Errorf(adapters.KindMalformed, op, "failed to marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return adapters.Errorf(adapters.KindMalformed, op, "failed to create request: %v", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return adapters.Errorf(adapters.KindTransient, op, "request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return adapters.Errorf(adapters.KindTransient, op, "failed to read response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return adapters.ClassifyHTTPStatus(op, resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return adapters.Errorf(adapters.KindMalformed, op, "failed to decode response: %v", err)
		}
	}

	return nil
}

// ListProjects fetches all projects visible to the token.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp struct {
		Projects []Project `json:"projects"`
	}
	if err := c.doRequest(ctx, "primary.ListProjects", http.MethodGet, "/projects", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

// ListIssues fetches issues for a project. When modifiedAfter is non-nil the
// listing is incremental: only issues modified at or after the watermark.
func (c *Client) ListIssues(ctx context.Context, projectID string, modifiedAfter *time.Time) ([]Issue, error) {
	path := fmt.Sprintf("/projects/%s/issues", url.PathEscape(projectID))
	if modifiedAfter != nil {
		path += "?modifiedAfter=" + strconv.FormatInt(modifiedAfter.UnixMilli(), 10)
	}

	var resp struct {
		Issues []Issue `json:"issues"`
	}
	if err := c.doRequest(ctx, "primary.ListIssues", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Issues, nil
}

// GetIssue fetches a single issue by its short-code identifier.
func (c *Client) GetIssue(ctx context.Context, identifier string) (*Issue, error) {
	var issue Issue
	path := "/issues/" + url.PathEscape(identifier)
	if err := c.doRequest(ctx, "primary.GetIssue", http.MethodGet, path, nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// UpdateIssueStatus moves an issue to a new status.
func (c *Client) UpdateIssueStatus(ctx context.Context, identifier, status string) error {
	path := "/issues/" + url.PathEscape(identifier)
	body := map[string]string{"status": status}
	return c.doRequest(ctx, "primary.UpdateIssueStatus", http.MethodPatch, path, body, nil)
}
