package board

import "time"

// Project is a project (board) on the Board backend.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Task is a card on a Board project. Status carries the Board's column
// vocabulary verbatim.
type Task struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	// UpdatedAt is RFC3339 when present. The Board does not reliably
	// advance it on status-only edits, so absence and staleness both
	// mean "unknown", not "unchanged".
	UpdatedAt string `json:"updated_at,omitempty"`
}

// UpdatedAtMillis parses the task's updated_at into milliseconds since
// epoch. It returns nil when the field is absent or unparseable; callers
// must treat nil as "timestamp unknown".
func (t *Task) UpdatedAtMillis() *int64 {
	if t.UpdatedAt == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, t.UpdatedAt)
	if err != nil {
		return nil
	}
	ms := parsed.UnixMilli()
	return &ms
}
