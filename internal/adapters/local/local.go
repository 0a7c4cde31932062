// Package local wraps the Local store CLI. The adapter shells out to the
// configured executable per project directory and parses line-delimited
// JSON from stdout; it depends on nothing beyond that contract.
package local

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stacksync/stacksync/internal/adapters"
)

// DefaultMarkerDir is the directory whose presence marks a project path
// as holding a Local store.
const DefaultMarkerDir = ".local"

// Issue is an issue in the Local store. Status is "open" or "closed";
// Priority is 1 (highest) through 5 (none).
type Issue struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Priority int    `json:"priority"`
	Type     string `json:"issue_type"`
}

// Adapter invokes the Local store CLI inside project directories.
type Adapter struct {
	cliPath   string
	markerDir string
}

// NewAdapter creates an adapter around the given CLI executable. An empty
// markerDir falls back to DefaultMarkerDir.
func NewAdapter(cliPath, markerDir string) *Adapter {
	if markerDir == "" {
		markerDir = DefaultMarkerDir
	}
	return &Adapter{cliPath: cliPath, markerDir: markerDir}
}

// HasStore reports whether projectPath holds a Local store. Adapter calls
// against a path without one are no-ops for the caller to skip.
func (a *Adapter) HasStore(projectPath string) bool {
	info, err := os.Stat(filepath.Join(projectPath, a.markerDir))
	return err == nil && info.IsDir()
}

// ListIssues lists every issue in the project's Local store.
func (a *Adapter) ListIssues(ctx context.Context, projectPath string) ([]Issue, error) {
	stdout, err := a.run(ctx, "local.ListIssues", projectPath, "list", "--json")
	if err != nil {
		return nil, err
	}

	var issues []Issue
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var issue Issue
		if err := json.Unmarshal([]byte(line), &issue); err != nil {
			return nil, adapters.Errorf(adapters.KindMalformed, "local.ListIssues", "bad output line %q: %v", line, err)
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// CreateIssue creates an issue and returns it with its CLI-assigned ID.
func (a *Adapter) CreateIssue(ctx context.Context, projectPath, title, issueType string, priority int) (*Issue, error) {
	stdout, err := a.run(ctx, "local.CreateIssue", projectPath,
		"create", title,
		"--type", issueType,
		"--priority", strconv.Itoa(priority),
		"--json")
	if err != nil {
		return nil, err
	}

	line := firstLine(stdout)
	var issue Issue
	if err := json.Unmarshal([]byte(line), &issue); err != nil {
		return nil, adapters.Errorf(adapters.KindMalformed, "local.CreateIssue", "bad output %q: %v", line, err)
	}
	if issue.ID == "" {
		return nil, adapters.Errorf(adapters.KindMalformed, "local.CreateIssue", "created issue has no id: %q", line)
	}
	return &issue, nil
}

// UpdateIssue changes an issue's priority and type.
func (a *Adapter) UpdateIssue(ctx context.Context, projectPath, id, issueType string, priority int) error {
	_, err := a.run(ctx, "local.UpdateIssue", projectPath,
		"update", id,
		"--type", issueType,
		"--priority", strconv.Itoa(priority))
	return err
}

// CloseIssue marks an issue closed.
func (a *Adapter) CloseIssue(ctx context.Context, projectPath, id string) error {
	_, err := a.run(ctx, "local.CloseIssue", projectPath, "close", id)
	return err
}

// ReopenIssue marks a closed issue open again.
func (a *Adapter) ReopenIssue(ctx context.Context, projectPath, id string) error {
	_, err := a.run(ctx, "local.ReopenIssue", projectPath, "reopen", id)
	return err
}

func (a *Adapter) run(ctx context.Context, op, projectPath string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, a.cliPath, args...)
	cmd.Dir = projectPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, adapters.Errorf(adapters.KindTransient, op, "cli cancelled: %v", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		return nil, adapters.Errorf(classifyStderr(msg), op, "cli exited: %v: %s", err, adapters.TruncateBody([]byte(msg)))
	}
	return stdout.Bytes(), nil
}

// classifyStderr decides whether a CLI failure is worth retrying. Usage
// and parse errors won't fix themselves; everything else might.
func classifyStderr(stderr string) adapters.Kind {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "not found") || strings.Contains(lower, "no such issue"):
		return adapters.KindNotFound
	case strings.Contains(lower, "usage:") ||
		strings.Contains(lower, "invalid") ||
		strings.Contains(lower, "unknown flag") ||
		strings.Contains(lower, "unknown command") ||
		strings.Contains(lower, "parse"):
		return adapters.KindMalformed
	default:
		return adapters.KindTransient
	}
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
