package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stacksync/stacksync/internal/adapters"
)

// writeFakeCLI installs a shell script standing in for the Local store CLI
// and returns its path plus a project directory carrying the marker.
func writeFakeCLI(t *testing.T, script string) (cliPath, projectPath string) {
	t.Helper()
	dir := t.TempDir()
	cliPath = filepath.Join(dir, "fakecli")
	full := "#!/bin/sh\n" + script
	if err := os.WriteFile(cliPath, []byte(full), 0o755); err != nil {
		t.Fatalf("failed to write fake cli: %v", err)
	}

	projectPath = filepath.Join(dir, "project")
	if err := os.MkdirAll(filepath.Join(projectPath, DefaultMarkerDir), 0o755); err != nil {
		t.Fatalf("failed to create project dir: %v", err)
	}
	return cliPath, projectPath
}

func TestHasStore(t *testing.T) {
	cliPath, projectPath := writeFakeCLI(t, "exit 0")
	adapter := NewAdapter(cliPath, "")

	if !adapter.HasStore(projectPath) {
		t.Error("expected marker dir to be detected")
	}
	if adapter.HasStore(t.TempDir()) {
		t.Error("bare dir should not count as a store")
	}
}

func TestListIssues(t *testing.T) {
	cliPath, projectPath := writeFakeCLI(t, `
if [ "$1" = "list" ]; then
  echo '{"id":"loc-1","title":"Fix login","status":"open","priority":2,"issue_type":"bug"}'
  echo ''
  echo '{"id":"loc-2","title":"Add docs","status":"closed","priority":4,"issue_type":"task"}'
  exit 0
fi
exit 1`)
	adapter := NewAdapter(cliPath, "")

	issues, err := adapter.ListIssues(context.Background(), projectPath)
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("got %d issues, want 2", len(issues))
	}
	if issues[0].ID != "loc-1" || issues[0].Status != "open" || issues[0].Priority != 2 {
		t.Errorf("unexpected first issue: %+v", issues[0])
	}
	if issues[1].Status != "closed" {
		t.Errorf("second issue status = %q, want closed", issues[1].Status)
	}
}

func TestCreateIssue(t *testing.T) {
	cliPath, projectPath := writeFakeCLI(t, `
if [ "$1" = "create" ]; then
  echo "{\"id\":\"loc-9\",\"title\":\"$2\",\"status\":\"open\",\"priority\":1,\"issue_type\":\"bug\"}"
  exit 0
fi
exit 1`)
	adapter := NewAdapter(cliPath, "")

	issue, err := adapter.CreateIssue(context.Background(), projectPath, "Fix login", "bug", 1)
	if err != nil {
		t.Fatalf("CreateIssue failed: %v", err)
	}
	if issue.ID != "loc-9" || issue.Title != "Fix login" {
		t.Errorf("unexpected issue: %+v", issue)
	}
}

func TestCloseAndReopen(t *testing.T) {
	cliPath, projectPath := writeFakeCLI(t, `
case "$1" in
  close|reopen) exit 0 ;;
  *) echo "unknown command" >&2; exit 1 ;;
esac`)
	adapter := NewAdapter(cliPath, "")

	if err := adapter.CloseIssue(context.Background(), projectPath, "loc-1"); err != nil {
		t.Errorf("CloseIssue failed: %v", err)
	}
	if err := adapter.ReopenIssue(context.Background(), projectPath, "loc-1"); err != nil {
		t.Errorf("ReopenIssue failed: %v", err)
	}
}

func TestMalformedStderr(t *testing.T) {
	cliPath, projectPath := writeFakeCLI(t, `echo "invalid arguments" >&2; exit 2`)
	adapter := NewAdapter(cliPath, "")

	_, err := adapter.ListIssues(context.Background(), projectPath)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := adapters.KindOf(err); got != adapters.KindMalformed {
		t.Errorf("kind = %v, want malformed", got)
	}
}

func TestTransientStderr(t *testing.T) {
	cliPath, projectPath := writeFakeCLI(t, `echo "database is locked" >&2; exit 1`)
	adapter := NewAdapter(cliPath, "")

	_, err := adapter.ListIssues(context.Background(), projectPath)
	if err == nil {
		t.Fatal("expected error")
	}
	if !adapters.IsTransient(err) {
		t.Errorf("kind = %v, want transient", adapters.KindOf(err))
	}
}

func TestNotFoundStderr(t *testing.T) {
	cliPath, projectPath := writeFakeCLI(t, `echo "issue loc-404 not found" >&2; exit 1`)
	adapter := NewAdapter(cliPath, "")

	err := adapter.CloseIssue(context.Background(), projectPath, "loc-404")
	if !adapters.IsNotFound(err) {
		t.Errorf("kind = %v, want not_found", adapters.KindOf(err))
	}
}

func TestMalformedOutputLine(t *testing.T) {
	cliPath, projectPath := writeFakeCLI(t, `echo 'this is not json'; exit 0`)
	adapter := NewAdapter(cliPath, "")

	_, err := adapter.ListIssues(context.Background(), projectPath)
	if err == nil {
		t.Fatal("expected error for non-JSON output")
	}
	if got := adapters.KindOf(err); got != adapters.KindMalformed {
		t.Errorf("kind = %v, want malformed", got)
	}
}
