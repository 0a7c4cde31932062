package primary

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stacksync/stacksync/internal/adapters"
)

func TestListProjects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects" || r.Method != http.MethodGet {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"projects": []Project{{ID: "p1", Identifier: "GATE", Name: "Gateway"}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok")
	projects, err := client.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(projects) != 1 || projects[0].Identifier != "GATE" {
		t.Errorf("unexpected projects: %+v", projects)
	}
}

func TestListIssuesIncremental(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects/p1/issues" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("modifiedAfter"); got != "1767366245000" {
			t.Errorf("modifiedAfter = %q, want 1767366245000", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"issues": []Issue{{Identifier: "GATE-7", Status: "InProgress", ModifiedOn: 1767366300000}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok")
	after := time.UnixMilli(1767366245000)
	issues, err := client.ListIssues(context.Background(), "p1", &after)
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
	if len(issues) != 1 || issues[0].Identifier != "GATE-7" {
		t.Errorf("unexpected issues: %+v", issues)
	}
}

func TestListIssuesFull(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			t.Errorf("expected no query, got %q", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"issues": []Issue{}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok")
	if _, err := client.ListIssues(context.Background(), "p1", nil); err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}
}

func TestUpdateIssueStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/issues/GATE-7" || r.Method != http.MethodPatch {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["status"] != "Done" {
			t.Errorf("status = %q, want Done", body["status"])
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok")
	if err := client.UpdateIssueStatus(context.Background(), "GATE-7", "Done"); err != nil {
		t.Fatalf("UpdateIssueStatus failed: %v", err)
	}
}

func TestNewClientWithTimeout(t *testing.T) {
	client := NewClientWithTimeout("http://example.test", "tok", 5*time.Second)
	if got := client.httpClient.Timeout; got != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", got)
	}

	// Non-positive keeps the default.
	client = NewClientWithTimeout("http://example.test", "tok", 0)
	if got := client.httpClient.Timeout; got != 30*time.Second {
		t.Errorf("timeout = %v, want default 30s", got)
	}
}

func TestForbiddenNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok")
	_, err := client.GetIssue(context.Background(), "GATE-7")
	if err == nil {
		t.Fatal("expected error for 401")
	}
	if adapters.KindOf(err) != adapters.KindForbidden {
		t.Errorf("kind = %v, want forbidden", adapters.KindOf(err))
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on auth failure)", attempts)
	}
}
