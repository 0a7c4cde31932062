package board

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
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"projects": []Project{{ID: "b1", Name: "Gateway"}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok")
	projects, err := client.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != "b1" || projects[0].Name != "Gateway" {
		t.Errorf("unexpected projects: %+v", projects)
	}
}

func TestCreateProject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["name"] != "Gateway" {
			t.Errorf("name = %q, want Gateway", body["name"])
		}
		_ = json.NewEncoder(w).Encode(Project{ID: "b2", Name: "Gateway"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok")
	project, err := client.CreateProject(context.Background(), "Gateway")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	if project.ID != "b2" {
		t.Errorf("project ID = %q, want b2", project.ID)
	}
}

func TestCreateTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects/b1/tasks" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["status"] != "inprogress" {
			t.Errorf("status = %q, want inprogress", body["status"])
		}
		_ = json.NewEncoder(w).Encode(Task{ID: "t9", ProjectID: "b1", Title: body["title"], Status: body["status"]})
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok")
	task, err := client.CreateTask(context.Background(), "b1", "Fix login", "details", "inprogress")
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.ID != "t9" {
		t.Errorf("task ID = %q, want t9", task.ID)
	}
}

func TestUpdateTaskStatusNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no such task"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok")
	err := client.UpdateTaskStatus(context.Background(), "missing", "done")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !adapters.IsNotFound(err) {
		t.Errorf("kind = %v, want not_found", adapters.KindOf(err))
	}
}

func TestListTasksRetriesTransient(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"tasks": []Task{{ID: "t1", Status: "todo"}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok")
	tasks, err := client.ListTasks(context.Background(), "b1")
	if err != nil {
		t.Fatalf("ListTasks failed after retries: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Errorf("unexpected tasks: %+v", tasks)
	}
}

func TestNewClientWithTimeout(t *testing.T) {
	client := NewClientWithTimeout("http://example.test", "tok", 10*time.Second)
	if got := client.httpClient.Timeout; got != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", got)
	}
}

func TestUpdatedAtMillis(t *testing.T) {
	task := Task{UpdatedAt: "2026-01-02T15:04:05Z"}
	ms := task.UpdatedAtMillis()
	if ms == nil {
		t.Fatal("expected non-nil millis")
	}
	if *ms != 1767366245000 {
		t.Errorf("millis = %d, want 1767366245000", *ms)
	}

	for _, raw := range []string{"", "not-a-time", "2026-13-99"} {
		task := Task{UpdatedAt: raw}
		if task.UpdatedAtMillis() != nil {
			t.Errorf("UpdatedAtMillis(%q) = non-nil, want nil", raw)
		}
	}
}
