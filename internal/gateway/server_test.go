package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stacksync/stacksync/internal/syncer"
)

type staticSource struct {
	snap syncer.Snapshot
}

func (s *staticSource) Snapshot() syncer.Snapshot {
	return s.snap
}

func TestHandleHealth(t *testing.T) {
	src := &staticSource{snap: syncer.Snapshot{
		Status: syncer.StatusHealthy,
		LastCycle: &syncer.Report{
			CycleID:     "c1",
			StartedAt:   time.Now().UTC(),
			DurationMS:  120,
			Phase1Count: 3,
			Completed:   true,
		},
	}}
	server := NewServer(&Config{Host: "127.0.0.1", Port: 0}, src)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got syncer.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Status != syncer.StatusHealthy {
		t.Errorf("status = %q, want healthy", got.Status)
	}
	if got.LastCycle == nil || got.LastCycle.Phase1Count != 3 {
		t.Errorf("lastCycle = %+v, want phase1Count 3", got.LastCycle)
	}
}

func TestHandleHealthUnhealthyIs503(t *testing.T) {
	src := &staticSource{snap: syncer.Snapshot{Status: syncer.StatusUnhealthy}}
	server := NewServer(&Config{Host: "127.0.0.1", Port: 0}, src)

	rec := httptest.NewRecorder()
	server.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandleHealthRejectsPost(t *testing.T) {
	server := NewServer(&Config{}, &staticSource{})

	rec := httptest.NewRecorder()
	server.handleHealth(rec, httptest.NewRequest(http.MethodPost, "/health", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
