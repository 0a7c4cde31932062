// Package store is the durable state store for stacksync: project and issue
// mappings, last-observed statuses, and modification timestamps, kept in a
// single embedded SQLite file. The orchestrator process owns the store
// exclusively; a file lock enforces the single-writer invariant.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/stacksync/stacksync/internal/mapper"
)

const (
	dbFileName   = "sync-state.db"
	lockFileName = "sync-state.lock"

	schemaVersionKey = "schema_version"
	schemaVersion    = "2"

	// MetaLastSync is the global watermark key advanced after each
	// fully successful cycle.
	MetaLastSync = "last_sync"
)

// Store provides persistent storage for sync state using SQLite.
// It runs migrations automatically on initialization.
type Store struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

// NewStore opens (or creates) the state database under dataPath and acquires
// the exclusive file lock. A store already locked by another process is a
// startup-fatal condition; so is a database that cannot be opened or migrated.
func NewStore(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	lock := flock.New(filepath.Join(dataPath, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire state lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("state store at %s is locked by another instance", dataPath)
	}

	dbPath := filepath.Join(dataPath, dbFileName)
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dataPath,
		lock: lock,
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate creates necessary tables and applies schema changes.
// Every statement is idempotent; ALTER TABLE duplicates are tolerated so the
// list can only grow. The resulting version is recorded in sync_metadata.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			identifier TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			primary_id TEXT,
			board_id TEXT,
			filesystem_path TEXT,
			agent_id TEXT,
			last_sync_at DATETIME,
			last_checked_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS issues (
			project_identifier TEXT NOT NULL,
			identifier TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			board_status TEXT,
			local_id TEXT,
			local_status TEXT,
			board_task_id TEXT,
			primary_modified_at INTEGER,
			board_modified_at INTEGER,
			last_sync_at DATETIME,
			PRIMARY KEY (project_identifier, identifier)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_primary ON projects(primary_id)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_board_task ON issues(board_task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_local ON issues(local_id)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_modified ON issues(primary_modified_at)`,
		// v2: per-issue type and priority, used by Phase 3a creates
		`ALTER TABLE issues ADD COLUMN issue_type TEXT NOT NULL DEFAULT 'task'`,
		`ALTER TABLE issues ADD COLUMN priority TEXT NOT NULL DEFAULT 'NoPriority'`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			// SQLite reports "duplicate column name" when an ALTER TABLE
			// migration has already been applied.
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return s.SetMeta(schemaVersionKey, schemaVersion)
}

// Close closes the database and releases the file lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	return err
}

// Path returns the directory holding the state database.
func (s *Store) Path() string {
	return s.path
}

// Project is a recognized project and its cross-backend identity.
// Identifier is the stable short code assigned by Primary and is the join
// key across all three backends.
type Project struct {
	Identifier     string
	Name           string
	PrimaryID      string
	BoardID        *string
	FilesystemPath *string
	AgentID        *string
	LastSyncAt     time.Time
	LastCheckedAt  time.Time
}

// UpsertProject inserts or updates a project by identifier.
// primary_id and board_id are write-once: an existing stored value is never
// replaced by a later upsert. Nullable fields only overwrite when non-null.
func (s *Store) UpsertProject(p *Project) error {
	_, err := s.db.Exec(`
		INSERT INTO projects (identifier, name, primary_id, board_id, filesystem_path, agent_id, last_checked_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(identifier) DO UPDATE SET
			name = excluded.name,
			primary_id = COALESCE(projects.primary_id, excluded.primary_id),
			board_id = COALESCE(projects.board_id, excluded.board_id),
			filesystem_path = COALESCE(excluded.filesystem_path, projects.filesystem_path),
			agent_id = COALESCE(excluded.agent_id, projects.agent_id),
			last_checked_at = CURRENT_TIMESTAMP
	`, p.Identifier, p.Name, nullIfEmpty(p.PrimaryID), p.BoardID, p.FilesystemPath, p.AgentID)
	return err
}

// GetProject retrieves a project by identifier.
// Returns nil (no error) when the project is unknown.
func (s *Store) GetProject(identifier string) (*Project, error) {
	row := s.db.QueryRow(`
		SELECT identifier, name, primary_id, board_id, filesystem_path, agent_id, last_sync_at, last_checked_at
		FROM projects WHERE identifier = ?
	`, identifier)

	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ListProjects retrieves all known projects ordered by identifier.
func (s *Store) ListProjects() ([]*Project, error) {
	rows, err := s.db.Query(`
		SELECT identifier, name, primary_id, board_id, filesystem_path, agent_id, last_sync_at, last_checked_at
		FROM projects ORDER BY identifier
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// MarkProjectSynced stamps last_sync_at for a project.
func (s *Store) MarkProjectSynced(identifier string) error {
	_, err := s.db.Exec(`UPDATE projects SET last_sync_at = CURRENT_TIMESTAMP WHERE identifier = ?`, identifier)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var p Project
	var primaryID, boardID, fsPath, agentID sql.NullString
	var lastSync, lastChecked sql.NullTime
	if err := row.Scan(&p.Identifier, &p.Name, &primaryID, &boardID, &fsPath, &agentID, &lastSync, &lastChecked); err != nil {
		return nil, err
	}
	p.PrimaryID = primaryID.String
	if boardID.Valid {
		p.BoardID = &boardID.String
	}
	if fsPath.Valid {
		p.FilesystemPath = &fsPath.String
	}
	if agentID.Valid {
		p.AgentID = &agentID.String
	}
	if lastSync.Valid {
		p.LastSyncAt = lastSync.Time
	}
	if lastChecked.Valid {
		p.LastCheckedAt = lastChecked.Time
	}
	return &p, nil
}

// Issue is the persisted mapping row for one issue across the three backends.
// Status is the canonical Primary status; BoardStatus and LocalStatus are the
// last values the orchestrator observed on those sides (the change-detection
// baselines), never the values it wrote.
type Issue struct {
	ProjectIdentifier string
	Identifier        string
	Title             string
	Status            mapper.PrimaryStatus
	BoardStatus       *mapper.BoardStatus
	LocalID           *string
	LocalStatus       *mapper.LocalStatus
	BoardTaskID       *string
	IssueType         mapper.IssueType
	Priority          mapper.Priority
	PrimaryModifiedAt *int64 // ms epoch
	BoardModifiedAt   *int64 // ms epoch
	LastSyncAt        time.Time
}

const issueColumns = `project_identifier, identifier, title, status, board_status,
	local_id, local_status, board_task_id, issue_type, priority,
	primary_modified_at, board_modified_at, last_sync_at`

// UpsertIssue inserts or updates by (project_identifier, identifier).
// Null arguments never overwrite stored values; board_task_id and local_id
// are write-once (mapping stability); primary_modified_at is monotonic
// non-decreasing.
func (s *Store) UpsertIssue(i *Issue) error {
	issueType := i.IssueType
	if issueType == "" {
		issueType = mapper.TypeTask
	}
	priority := i.Priority
	if priority == "" {
		priority = mapper.PriorityNone
	}

	_, err := s.db.Exec(`
		INSERT INTO issues (project_identifier, identifier, title, status, board_status,
			local_id, local_status, board_task_id, issue_type, priority,
			primary_modified_at, board_modified_at, last_sync_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(project_identifier, identifier) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			board_status = COALESCE(excluded.board_status, issues.board_status),
			local_id = COALESCE(issues.local_id, excluded.local_id),
			local_status = COALESCE(excluded.local_status, issues.local_status),
			board_task_id = COALESCE(issues.board_task_id, excluded.board_task_id),
			issue_type = excluded.issue_type,
			priority = excluded.priority,
			primary_modified_at = CASE
				WHEN excluded.primary_modified_at IS NULL THEN issues.primary_modified_at
				WHEN issues.primary_modified_at IS NULL THEN excluded.primary_modified_at
				ELSE MAX(issues.primary_modified_at, excluded.primary_modified_at)
			END,
			board_modified_at = COALESCE(excluded.board_modified_at, issues.board_modified_at),
			last_sync_at = CURRENT_TIMESTAMP
	`, i.ProjectIdentifier, i.Identifier, i.Title, string(i.Status), boardStatusArg(i.BoardStatus),
		i.LocalID, localStatusArg(i.LocalStatus), i.BoardTaskID, string(issueType), string(priority),
		i.PrimaryModifiedAt, i.BoardModifiedAt)
	return err
}

// GetIssue retrieves an issue by its composite identity.
// Returns nil (no error) when the issue is unknown.
func (s *Store) GetIssue(projectIdentifier, identifier string) (*Issue, error) {
	row := s.db.QueryRow(`
		SELECT `+issueColumns+` FROM issues
		WHERE project_identifier = ? AND identifier = ?
	`, projectIdentifier, identifier)

	i, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return i, err
}

// ListIssuesForProject retrieves all issue rows for one project.
func (s *Store) ListIssuesForProject(projectIdentifier string) ([]*Issue, error) {
	rows, err := s.db.Query(`
		SELECT `+issueColumns+` FROM issues
		WHERE project_identifier = ? ORDER BY identifier
	`, projectIdentifier)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var issues []*Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, i)
	}
	return issues, rows.Err()
}

// FindIssueByLocalID resolves a local store ID within a project back to its
// issue row. Returns nil (no error) when no mapping exists.
func (s *Store) FindIssueByLocalID(projectIdentifier, localID string) (*Issue, error) {
	row := s.db.QueryRow(`
		SELECT `+issueColumns+` FROM issues
		WHERE project_identifier = ? AND local_id = ?
	`, projectIdentifier, localID)

	i, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return i, err
}

func scanIssue(row rowScanner) (*Issue, error) {
	var i Issue
	var status, issueType, priority string
	var boardStatus, localID, localStatus, boardTaskID sql.NullString
	var primaryMod, boardMod sql.NullInt64
	var lastSync sql.NullTime

	if err := row.Scan(&i.ProjectIdentifier, &i.Identifier, &i.Title, &status, &boardStatus,
		&localID, &localStatus, &boardTaskID, &issueType, &priority,
		&primaryMod, &boardMod, &lastSync); err != nil {
		return nil, err
	}

	i.Status = mapper.PrimaryStatus(status)
	i.IssueType = mapper.IssueType(issueType)
	i.Priority = mapper.Priority(priority)
	if boardStatus.Valid {
		bs := mapper.BoardStatus(boardStatus.String)
		i.BoardStatus = &bs
	}
	if localID.Valid {
		i.LocalID = &localID.String
	}
	if localStatus.Valid {
		ls := mapper.LocalStatus(localStatus.String)
		i.LocalStatus = &ls
	}
	if boardTaskID.Valid {
		i.BoardTaskID = &boardTaskID.String
	}
	if primaryMod.Valid {
		i.PrimaryModifiedAt = &primaryMod.Int64
	}
	if boardMod.Valid {
		i.BoardModifiedAt = &boardMod.Int64
	}
	if lastSync.Valid {
		i.LastSyncAt = lastSync.Time
	}
	return &i, nil
}

// ClearIssueBoardMapping nulls the board mapping for one issue, typically
// after the Board reports the task gone. The next cycle re-creates it.
func (s *Store) ClearIssueBoardMapping(projectIdentifier, identifier string) error {
	_, err := s.db.Exec(`UPDATE issues SET board_task_id = NULL, board_status = NULL, board_modified_at = NULL
		WHERE project_identifier = ? AND identifier = ?`, projectIdentifier, identifier)
	return err
}

// ClearIssueLocalMapping nulls the local mapping for one issue.
func (s *Store) ClearIssueLocalMapping(projectIdentifier, identifier string) error {
	_, err := s.db.Exec(`UPDATE issues SET local_id = NULL, local_status = NULL
		WHERE project_identifier = ? AND identifier = ?`, projectIdentifier, identifier)
	return err
}

// ClearBoardMappings nulls board_task_id, board_status, and board_modified_at
// for one project, or for all projects when projectIdentifier is empty.
// This is the explicit reset that permits a board_task_id to be re-assigned.
func (s *Store) ClearBoardMappings(projectIdentifier string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if projectIdentifier == "" {
		_, err = tx.Exec(`UPDATE issues SET board_task_id = NULL, board_status = NULL, board_modified_at = NULL`)
		if err == nil {
			_, err = tx.Exec(`UPDATE projects SET board_id = NULL`)
		}
	} else {
		_, err = tx.Exec(`UPDATE issues SET board_task_id = NULL, board_status = NULL, board_modified_at = NULL
			WHERE project_identifier = ?`, projectIdentifier)
		if err == nil {
			_, err = tx.Exec(`UPDATE projects SET board_id = NULL WHERE identifier = ?`, projectIdentifier)
		}
	}
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ClearAll resets every mapping field while preserving project and issue
// identity rows.
func (s *Store) ClearAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err = tx.Exec(`UPDATE issues SET board_task_id = NULL, board_status = NULL, board_modified_at = NULL,
		local_id = NULL, local_status = NULL`); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err = tx.Exec(`UPDATE projects SET board_id = NULL, agent_id = NULL`); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err = tx.Exec(`DELETE FROM sync_metadata WHERE key != ?`, schemaVersionKey); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// GetMeta reads a sync_metadata value; empty string when absent.
func (s *Store) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM sync_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetMeta writes a sync_metadata value.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_metadata (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// LastSyncWatermark returns the global incremental-sync watermark, or the
// zero time when no successful cycle has completed yet.
func (s *Store) LastSyncWatermark() (time.Time, error) {
	raw, err := s.GetMeta(MetaLastSync)
	if err != nil || raw == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s watermark %q: %w", MetaLastSync, raw, err)
	}
	return t, nil
}

// SetLastSyncWatermark advances the global incremental-sync watermark.
func (s *Store) SetLastSyncWatermark(t time.Time) error {
	return s.SetMeta(MetaLastSync, t.UTC().Format(time.RFC3339))
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func boardStatusArg(b *mapper.BoardStatus) *string {
	if b == nil {
		return nil
	}
	s := string(*b)
	return &s
}

func localStatusArg(l *mapper.LocalStatus) *string {
	if l == nil {
		return nil
	}
	s := string(*l)
	return &s
}
