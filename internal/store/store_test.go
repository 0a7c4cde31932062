package store

import (
	"testing"
	"time"

	"github.com/stacksync/stacksync/internal/mapper"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(s string) *string       { return &s }
func int64Ptr(n int64) *int64       { return &n }
func boardPtr(b mapper.BoardStatus) *mapper.BoardStatus { return &b }
func localPtr(l mapper.LocalStatus) *mapper.LocalStatus { return &l }

func TestNewStoreLocking(t *testing.T) {
	dir := t.TempDir()

	s1, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer func() { _ = s1.Close() }()

	// Second store on the same directory must be refused.
	if _, err := NewStore(dir); err == nil {
		t.Fatal("expected error opening a locked store")
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Re-open: migrations run again and must not fail.
	s, err = NewStore(dir)
	if err != nil {
		t.Fatalf("re-open after migrations failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	version, err := s.GetMeta("schema_version")
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if version == "" {
		t.Error("schema_version not recorded in sync_metadata")
	}
}

func TestUpsertProjectPreservesIdentity(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertProject(&Project{Identifier: "ACME", Name: "Acme", PrimaryID: "p-1"}); err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}

	// A later upsert must not replace primary_id or an established board_id.
	if err := s.UpsertProject(&Project{Identifier: "ACME", Name: "Acme Renamed", PrimaryID: "p-other", BoardID: strPtr("b-1")}); err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}
	if err := s.UpsertProject(&Project{Identifier: "ACME", Name: "Acme Renamed", BoardID: strPtr("b-2")}); err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}

	p, err := s.GetProject("ACME")
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if p.PrimaryID != "p-1" {
		t.Errorf("primary_id replaced: got %s, want p-1", p.PrimaryID)
	}
	if p.BoardID == nil || *p.BoardID != "b-1" {
		t.Errorf("board_id not write-once: got %v, want b-1", p.BoardID)
	}
	if p.Name != "Acme Renamed" {
		t.Errorf("name should follow upserts: got %s", p.Name)
	}
}

func TestUpsertIssueCoalesce(t *testing.T) {
	s := newTestStore(t)

	err := s.UpsertIssue(&Issue{
		ProjectIdentifier: "ACME",
		Identifier:        "ACME-1",
		Title:             "First issue",
		Status:            mapper.PrimaryBacklog,
		BoardStatus:       boardPtr(mapper.BoardTodo),
		BoardTaskID:       strPtr("task-1"),
		PrimaryModifiedAt: int64Ptr(1000),
	})
	if err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}

	// Nil fields in a later upsert must not erase stored values, and the
	// board task mapping must be stable against replacement.
	err = s.UpsertIssue(&Issue{
		ProjectIdentifier: "ACME",
		Identifier:        "ACME-1",
		Title:             "First issue",
		Status:            mapper.PrimaryTodo,
		BoardTaskID:       strPtr("task-imposter"),
	})
	if err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}

	i, err := s.GetIssue("ACME", "ACME-1")
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if i.Status != mapper.PrimaryTodo {
		t.Errorf("status = %s, want Todo", i.Status)
	}
	if i.BoardStatus == nil || *i.BoardStatus != mapper.BoardTodo {
		t.Errorf("board_status erased by nil upsert: %v", i.BoardStatus)
	}
	if i.BoardTaskID == nil || *i.BoardTaskID != "task-1" {
		t.Errorf("board_task_id not stable: %v", i.BoardTaskID)
	}
	if i.PrimaryModifiedAt == nil || *i.PrimaryModifiedAt != 1000 {
		t.Errorf("primary_modified_at erased: %v", i.PrimaryModifiedAt)
	}
}

func TestPrimaryModifiedAtMonotonic(t *testing.T) {
	s := newTestStore(t)

	base := &Issue{
		ProjectIdentifier: "ACME",
		Identifier:        "ACME-2",
		Status:            mapper.PrimaryTodo,
		PrimaryModifiedAt: int64Ptr(5000),
	}
	if err := s.UpsertIssue(base); err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}

	// An older timestamp must never win.
	base.PrimaryModifiedAt = int64Ptr(3000)
	if err := s.UpsertIssue(base); err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}

	i, err := s.GetIssue("ACME", "ACME-2")
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if i.PrimaryModifiedAt == nil || *i.PrimaryModifiedAt != 5000 {
		t.Errorf("primary_modified_at regressed: %v, want 5000", i.PrimaryModifiedAt)
	}

	// A newer timestamp advances it.
	base.PrimaryModifiedAt = int64Ptr(9000)
	if err := s.UpsertIssue(base); err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}
	i, _ = s.GetIssue("ACME", "ACME-2")
	if *i.PrimaryModifiedAt != 9000 {
		t.Errorf("primary_modified_at = %d, want 9000", *i.PrimaryModifiedAt)
	}
}

func TestLocalIDWriteOnce(t *testing.T) {
	s := newTestStore(t)

	issue := &Issue{
		ProjectIdentifier: "ACME",
		Identifier:        "ACME-3",
		Status:            mapper.PrimaryTodo,
		LocalID:           strPtr("bd-abc"),
		LocalStatus:       localPtr(mapper.LocalOpen),
	}
	if err := s.UpsertIssue(issue); err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}

	issue.LocalID = strPtr("bd-other")
	issue.LocalStatus = localPtr(mapper.LocalClosed)
	if err := s.UpsertIssue(issue); err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}

	i, err := s.GetIssue("ACME", "ACME-3")
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if i.LocalID == nil || *i.LocalID != "bd-abc" {
		t.Errorf("local_id not write-once: %v", i.LocalID)
	}
	if i.LocalStatus == nil || *i.LocalStatus != mapper.LocalClosed {
		t.Errorf("local_status should follow observations: %v", i.LocalStatus)
	}
}

func TestClearBoardMappings(t *testing.T) {
	s := newTestStore(t)

	_ = s.UpsertProject(&Project{Identifier: "ACME", Name: "Acme", PrimaryID: "p-1", BoardID: strPtr("b-1")})
	_ = s.UpsertProject(&Project{Identifier: "ZETA", Name: "Zeta", PrimaryID: "p-2", BoardID: strPtr("b-2")})
	_ = s.UpsertIssue(&Issue{ProjectIdentifier: "ACME", Identifier: "ACME-1", Status: mapper.PrimaryTodo,
		BoardTaskID: strPtr("t-1"), BoardStatus: boardPtr(mapper.BoardTodo)})
	_ = s.UpsertIssue(&Issue{ProjectIdentifier: "ZETA", Identifier: "ZETA-1", Status: mapper.PrimaryTodo,
		BoardTaskID: strPtr("t-2"), BoardStatus: boardPtr(mapper.BoardTodo)})

	if err := s.ClearBoardMappings("ACME"); err != nil {
		t.Fatalf("ClearBoardMappings failed: %v", err)
	}

	acme, _ := s.GetIssue("ACME", "ACME-1")
	if acme.BoardTaskID != nil || acme.BoardStatus != nil {
		t.Errorf("ACME board mapping not cleared: %+v", acme)
	}
	zeta, _ := s.GetIssue("ZETA", "ZETA-1")
	if zeta.BoardTaskID == nil {
		t.Error("ZETA board mapping cleared by scoped reset")
	}

	p, _ := s.GetProject("ACME")
	if p.BoardID != nil {
		t.Errorf("ACME board_id not cleared: %v", *p.BoardID)
	}

	// Cleared mapping may now be re-assigned.
	_ = s.UpsertIssue(&Issue{ProjectIdentifier: "ACME", Identifier: "ACME-1", Status: mapper.PrimaryTodo,
		BoardTaskID: strPtr("t-new")})
	acme, _ = s.GetIssue("ACME", "ACME-1")
	if acme.BoardTaskID == nil || *acme.BoardTaskID != "t-new" {
		t.Errorf("board_task_id not re-assignable after reset: %v", acme.BoardTaskID)
	}
}

func TestClearAllPreservesIdentity(t *testing.T) {
	s := newTestStore(t)

	_ = s.UpsertProject(&Project{Identifier: "ACME", Name: "Acme", PrimaryID: "p-1", BoardID: strPtr("b-1"), AgentID: strPtr("agent-1")})
	_ = s.UpsertIssue(&Issue{ProjectIdentifier: "ACME", Identifier: "ACME-1", Status: mapper.PrimaryDone,
		BoardTaskID: strPtr("t-1"), LocalID: strPtr("bd-1"), PrimaryModifiedAt: int64Ptr(1234)})
	_ = s.SetLastSyncWatermark(time.Now())

	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}

	p, _ := s.GetProject("ACME")
	if p == nil {
		t.Fatal("project row deleted by ClearAll")
	}
	if p.BoardID != nil || p.AgentID != nil {
		t.Errorf("project mappings not cleared: %+v", p)
	}
	if p.PrimaryID != "p-1" {
		t.Errorf("primary_id lost: %s", p.PrimaryID)
	}

	i, _ := s.GetIssue("ACME", "ACME-1")
	if i == nil {
		t.Fatal("issue row deleted by ClearAll")
	}
	if i.BoardTaskID != nil || i.LocalID != nil {
		t.Errorf("issue mappings not cleared: %+v", i)
	}
	if i.Status != mapper.PrimaryDone {
		t.Errorf("canonical status lost: %s", i.Status)
	}

	wm, err := s.LastSyncWatermark()
	if err != nil {
		t.Fatalf("LastSyncWatermark failed: %v", err)
	}
	if !wm.IsZero() {
		t.Errorf("watermark survived ClearAll: %v", wm)
	}
}

func TestWatermarkRoundTrip(t *testing.T) {
	s := newTestStore(t)

	wm, err := s.LastSyncWatermark()
	if err != nil {
		t.Fatalf("LastSyncWatermark failed: %v", err)
	}
	if !wm.IsZero() {
		t.Errorf("expected zero watermark on fresh store, got %v", wm)
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := s.SetLastSyncWatermark(now); err != nil {
		t.Fatalf("SetLastSyncWatermark failed: %v", err)
	}
	wm, err = s.LastSyncWatermark()
	if err != nil {
		t.Fatalf("LastSyncWatermark failed: %v", err)
	}
	if !wm.Equal(now) {
		t.Errorf("watermark = %v, want %v", wm, now)
	}
}

func TestListIssuesForProject(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"ACME-2", "ACME-1", "ACME-3"} {
		_ = s.UpsertIssue(&Issue{ProjectIdentifier: "ACME", Identifier: id, Status: mapper.PrimaryTodo})
	}
	_ = s.UpsertIssue(&Issue{ProjectIdentifier: "ZETA", Identifier: "ZETA-1", Status: mapper.PrimaryTodo})

	issues, err := s.ListIssuesForProject("ACME")
	if err != nil {
		t.Fatalf("ListIssuesForProject failed: %v", err)
	}
	if len(issues) != 3 {
		t.Fatalf("got %d issues, want 3", len(issues))
	}
	if issues[0].Identifier != "ACME-1" {
		t.Errorf("issues not ordered: first = %s", issues[0].Identifier)
	}
}
