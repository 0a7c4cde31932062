// Package agent exposes sync activity to local tooling: an in-memory event
// feed consumed best-effort, and a per-stack sidecar file recording which
// agent last touched the store.
package agent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names what happened during a cycle.
type EventType string

const (
	EventProjectCreated EventType = "project_created"
	EventIssueChanged   EventType = "issue_changed"
)

// Event is one notable sync action.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Project    string    `json:"project"`
	Identifier string    `json:"identifier,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// Sink is a bounded event buffer. Consumers are best-effort: when the
// buffer fills, the oldest events are dropped and counted, never the
// publisher blocked.
type Sink struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	dropped  uint64
}

// NewSink creates a sink holding at most capacity events; capacity <= 0
// gets a default of 256.
func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = 256
	}
	return &Sink{capacity: capacity}
}

// Publish records an event and returns it with its assigned ID.
func (s *Sink) Publish(evtType EventType, project, identifier, detail string) Event {
	evt := Event{
		ID:         uuid.NewString(),
		Type:       evtType,
		Project:    project,
		Identifier: identifier,
		Detail:     detail,
		At:         time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) >= s.capacity {
		overflow := len(s.events) - s.capacity + 1
		s.events = s.events[overflow:]
		s.dropped += uint64(overflow)
	}
	s.events = append(s.events, evt)
	return evt
}

// Drain returns all buffered events and empties the sink.
func (s *Sink) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

// Dropped returns how many events were discarded to stay within capacity.
func (s *Sink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Sidecar is the per-stack record of the last agent to write the store.
type Sidecar struct {
	AgentID   string    `json:"agent_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

const sidecarFile = "agent.json"

// WriteSidecar records agentID in the stack's marker directory.
func WriteSidecar(projectPath, markerDir, agentID string) error {
	data, err := json.MarshalIndent(Sidecar{AgentID: agentID, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(projectPath, markerDir, sidecarFile), data, 0o644)
}

// ReadSidecar loads the sidecar; a missing file returns nil, nil.
func ReadSidecar(projectPath, markerDir string) (*Sidecar, error) {
	data, err := os.ReadFile(filepath.Join(projectPath, markerDir, sidecarFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}
