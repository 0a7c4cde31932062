// Package board is the REST adapter for the Board kanban backend.
package board

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stacksync/stacksync/internal/adapters"
)

// Client is a Board API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new Board client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClientWithTimeout creates a Board client with a per-request timeout.
// Non-positive timeouts fall back to the default 30s.
func NewClientWithTimeout(baseURL, token string, timeout time.Duration) *Client {
	c := NewClient(baseURL, token)
	if timeout > 0 {
		c.httpClient.Timeout = timeout
	}
	return c
}

// NewClientWithHTTP creates a Board client with a custom HTTP client (for testing).
func NewClientWithHTTP(baseURL, token string, httpClient *http.Client) *Client {
	c := NewClient(baseURL, token)
	c.httpClient = httpClient
	return c
}

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

// ListProjects fetches all Board projects visible to the token.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp struct {
		Projects []Project `json:"projects"`
	}
	if err := c.doRequest(ctx, "board.ListProjects", http.MethodGet, "/projects", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

// CreateProject creates a Board project. Returns the created project with
// its server-assigned ID.
func (c *Client) CreateProject(ctx context.Context, name string) (*Project, error) {
	body := map[string]string{"name": name}
	var project Project
	if err := c.doRequest(ctx, "board.CreateProject", http.MethodPost, "/projects", body, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// ListTasks fetches every task on a project.
func (c *Client) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	path := "/projects/" + url.PathEscape(projectID) + "/tasks"
	if err := c.doRequest(ctx, "board.ListTasks", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// CreateTask creates a task on a project and returns it with its
// server-assigned ID.
func (c *Client) CreateTask(ctx context.Context, projectID, title, description, status string) (*Task, error) {
	body := map[string]string{
		"title":       title,
		"description": description,
		"status":      status,
	}
	var task Task
	path := "/projects/" + url.PathEscape(projectID) + "/tasks"
	if err := c.doRequest(ctx, "board.CreateTask", http.MethodPost, path, body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTaskStatus moves a task to a new column.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status string) error {
	body := map[string]string{"status": status}
	return c.doRequest(ctx, "board.UpdateTaskStatus", http.MethodPatch, "/tasks/"+url.PathEscape(taskID), body, nil)
}
