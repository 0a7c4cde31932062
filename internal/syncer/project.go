package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stacksync/stacksync/internal/adapters"
	"github.com/stacksync/stacksync/internal/adapters/board"
	"github.com/stacksync/stacksync/internal/adapters/primary"
	"github.com/stacksync/stacksync/internal/agent"
	"github.com/stacksync/stacksync/internal/logging"
	"github.com/stacksync/stacksync/internal/mapper"
	"github.com/stacksync/stacksync/internal/store"
)

// projectSync carries one project's state through the four phases.
// Phases within a project are strictly sequential: Phase 2's skip set
// depends on Phase 1's writes, and Phase 3b's on both.
type projectSync struct {
	project       primary.Project
	path          string // stack directory, "" when the project has none
	boardID       string
	primaryIssues []primary.Issue
	tasks         []board.Task
	recently      map[string]bool // identifiers written this cycle, skip on reverse phases
	logger        *slog.Logger
	res           *projectResult
}

func (s *Syncer) syncProject(ctx context.Context, p primary.Project, watermark *time.Time, boardByName map[string]board.Project) *projectResult {
	pr := &projectSync{
		project:  p,
		recently: map[string]bool{},
		logger:   logging.WithComponent("syncer").With(slog.String("project", p.Identifier)),
		res:      &projectResult{},
	}

	if s.stacks != nil {
		pr.path, _ = s.stacks.PathFor(p.Identifier)
	}

	proj := &store.Project{
		Identifier: p.Identifier,
		Name:       p.Name,
		PrimaryID:  p.ID,
	}
	if pr.path != "" {
		proj.FilesystemPath = &pr.path
	}
	if !s.opts.DryRun {
		if err := s.store.UpsertProject(proj); err != nil {
			pr.res.fatal = true
			pr.res.addError(fmt.Sprintf("upsert project %s: %v", p.Identifier, err))
			return pr.res
		}
	}

	issues, err := s.primary.ListIssues(ctx, p.ID, watermark)
	if err != nil {
		s.recordEntityError(pr, "fetch", p.Identifier, err)
		return pr.res
	}
	pr.primaryIssues = issues

	if len(issues) == 0 && s.opts.SkipEmptyProjects {
		pr.logger.Debug("no issues, skipping project")
		return pr.res
	}

	if !s.ensureBoardProject(ctx, pr, boardByName) {
		return pr.res
	}

	if pr.boardID != "" {
		tasks, err := s.board.ListTasks(ctx, pr.boardID)
		if err != nil {
			s.recordEntityError(pr, "fetch", p.Identifier, err)
			return pr.res
		}
		pr.tasks = tasks

		s.phase1(ctx, pr)
		if pr.res.fatal {
			return pr.res
		}
		s.phase2(ctx, pr)
		if pr.res.fatal {
			return pr.res
		}
	}

	if pr.path != "" && s.local != nil && s.local.HasStore(pr.path) {
		s.phase3a(ctx, pr)
		if pr.res.fatal {
			return pr.res
		}
		s.phase3b(ctx, pr)
	}

	return pr.res
}

// ensureBoardProject resolves or creates the Board-side project. Returns
// false when the project sync cannot continue.
func (s *Syncer) ensureBoardProject(ctx context.Context, pr *projectSync, boardByName map[string]board.Project) bool {
	stored, err := s.store.GetProject(pr.project.Identifier)
	if err != nil {
		pr.res.fatal = true
		pr.res.addError(fmt.Sprintf("load project %s: %v", pr.project.Identifier, err))
		return false
	}
	if stored != nil && stored.BoardID != nil {
		pr.boardID = *stored.BoardID
		return true
	}

	if bp, ok := boardByName[strings.ToLower(pr.project.Name)]; ok {
		pr.boardID = bp.ID
	} else {
		pr.res.writesAttempted++
		if s.opts.DryRun {
			pr.logger.Info("dry-run: would create board project", "name", pr.project.Name)
			pr.res.writesSucceeded++
			return true // no board ID to carry phases on
		}
		created, err := s.board.CreateProject(ctx, pr.project.Name)
		if err != nil {
			s.recordEntityError(pr, "board-project", pr.project.Identifier, err)
			return false
		}
		pr.res.writesSucceeded++
		pr.boardID = created.ID
		s.events.Publish(agent.EventProjectCreated, pr.project.Identifier, "", created.ID)
		pr.logger.Info("created board project", "board_id", created.ID)
	}

	if !s.opts.DryRun {
		if err := s.store.UpsertProject(&store.Project{
			Identifier: pr.project.Identifier,
			Name:       pr.project.Name,
			PrimaryID:  pr.project.ID,
			BoardID:    &pr.boardID,
		}); err != nil {
			pr.res.fatal = true
			pr.res.addError(fmt.Sprintf("persist board id for %s: %v", pr.project.Identifier, err))
			return false
		}
	}
	return true
}

// phase1 pushes Primary status changes onto the Board and creates missing
// tasks. It is the only phase that creates board mappings.
func (s *Syncer) phase1(ctx context.Context, pr *projectSync) {
	tasksByID := make(map[string]board.Task, len(pr.tasks))
	tasksByTitle := make(map[string]board.Task, len(pr.tasks))
	for _, t := range pr.tasks {
		tasksByID[t.ID] = t
		tasksByTitle[strings.ToLower(t.Title)] = t
	}

	for _, p := range pr.primaryIssues {
		pr.res.entities++
		status, err := mapper.ParsePrimaryStatus(p.Status)
		if err != nil {
			s.recordEntityError(pr, "phase1", p.Identifier, adapters.NewError(adapters.KindMalformed, "primary.status", err))
			continue
		}

		row, err := s.store.GetIssue(pr.project.Identifier, p.Identifier)
		if err != nil {
			pr.res.fatal = true
			pr.res.addError(fmt.Sprintf("phase1 load %s: %v", p.Identifier, err))
			return
		}

		// Resolve the board task: stored mapping first, title match as a
		// one-shot bootstrap for pre-existing boards.
		var task *board.Task
		if row != nil && row.BoardTaskID != nil {
			if t, ok := tasksByID[*row.BoardTaskID]; ok {
				task = &t
			} else {
				pr.logger.Warn("mapped board task gone, clearing mapping",
					"identifier", p.Identifier, "board_task_id", *row.BoardTaskID)
				if !s.opts.DryRun {
					if err := s.store.ClearIssueBoardMapping(pr.project.Identifier, p.Identifier); err != nil {
						pr.res.fatal = true
						pr.res.addError(fmt.Sprintf("phase1 clear %s: %v", p.Identifier, err))
						return
					}
					row.BoardTaskID = nil
					row.BoardStatus = nil
				}
			}
		}
		if task == nil {
			if t, ok := tasksByTitle[strings.ToLower(p.Title)]; ok {
				task = &t
			}
		}

		desired, _ := mapper.PrimaryToBoard(status)

		if task == nil {
			s.createBoardTask(ctx, pr, p, status, desired)
			continue
		}

		observed, err := mapper.ParseBoardStatus(task.Status)
		if err != nil {
			s.recordEntityError(pr, "phase1", p.Identifier, adapters.NewError(adapters.KindMalformed, "board.status", err))
			continue
		}

		primaryChanged := row == nil || status != row.Status
		boardChanged := row != nil && row.BoardStatus != nil && observed != *row.BoardStatus

		writeBoard := false
		switch {
		case primaryChanged && !boardChanged:
			writeBoard = observed != desired
		case primaryChanged && boardChanged:
			var primaryMod *int64
			if p.ModifiedOn > 0 {
				primaryMod = &p.ModifiedOn
			}
			boardMod := task.UpdatedAtMillis()
			if boardMod == nil && row != nil {
				boardMod = row.BoardModifiedAt
			}
			wins, reason := primaryWinsConflict(primaryMod, boardMod, time.Now())
			pr.logger.Info("conflict resolved",
				"phase", "phase1",
				"identifier", p.Identifier,
				"primary_status", string(status),
				"board_status", string(observed),
				"primary_modified_at", int64PtrValue(primaryMod),
				"board_modified_at", int64PtrValue(boardMod),
				"primary_wins", wins,
				"reason", reason)
			writeBoard = wins && observed != desired
		}

		if writeBoard {
			if err := s.updateBoardTask(ctx, pr, p.Identifier, task.ID, string(observed), string(desired)); err != nil {
				s.handleBoardWriteError(pr, p.Identifier, task.ID, err)
				continue
			}
			pr.recently[p.Identifier] = true
			pr.res.phase1++
		}

		upsert := &store.Issue{
			ProjectIdentifier: pr.project.Identifier,
			Identifier:        p.Identifier,
			Title:             p.Title,
			Status:            status,
			BoardStatus:       &observed,
			BoardTaskID:       &task.ID,
			IssueType:         issueTypeOf(p),
			Priority:          priorityOf(p),
			BoardModifiedAt:   task.UpdatedAtMillis(),
		}
		if p.ModifiedOn > 0 {
			upsert.PrimaryModifiedAt = &p.ModifiedOn
		}
		s.persistIssue(pr, "phase1", upsert)
	}
}

func (s *Syncer) createBoardTask(ctx context.Context, pr *projectSync, p primary.Issue, status mapper.PrimaryStatus, desired mapper.BoardStatus) {
	pr.res.writesAttempted++
	if s.opts.DryRun {
		pr.logger.Info("dry-run: would create board task",
			"identifier", p.Identifier, "status", string(desired))
		pr.res.writesSucceeded++
		pr.res.phase1++
		return
	}

	created, err := s.board.CreateTask(ctx, pr.boardID, p.Title, p.Description, string(desired))
	if err != nil {
		s.recordEntityError(pr, "phase1", p.Identifier, err)
		return
	}
	pr.res.writesSucceeded++
	pr.res.phase1++
	pr.logger.Info("created board task",
		"phase", "phase1",
		"identifier", p.Identifier,
		"board_task_id", created.ID,
		"status", string(desired))
	s.events.Publish(agent.EventIssueChanged, pr.project.Identifier, p.Identifier, "board task created")

	upsert := &store.Issue{
		ProjectIdentifier: pr.project.Identifier,
		Identifier:        p.Identifier,
		Title:             p.Title,
		Status:            status,
		BoardStatus:       &desired,
		BoardTaskID:       &created.ID,
		IssueType:         issueTypeOf(p),
		Priority:          priorityOf(p),
	}
	if p.ModifiedOn > 0 {
		upsert.PrimaryModifiedAt = &p.ModifiedOn
	}
	s.persistIssue(pr, "phase1", upsert)
}

// phase2 pulls Board status changes back into Primary, skipping anything
// this cycle's Phase 1 just wrote.
func (s *Syncer) phase2(ctx context.Context, pr *projectSync) {
	rows, err := s.store.ListIssuesForProject(pr.project.Identifier)
	if err != nil {
		pr.res.fatal = true
		pr.res.addError(fmt.Sprintf("phase2 load rows: %v", err))
		return
	}
	rowsByTask := make(map[string]*store.Issue, len(rows))
	for _, r := range rows {
		if r.BoardTaskID != nil {
			rowsByTask[*r.BoardTaskID] = r
		}
	}

	for _, task := range pr.tasks {
		row, ok := rowsByTask[task.ID]
		if !ok {
			continue // board-only task, no identifier to resolve
		}
		pr.res.entities++
		if pr.recently[row.Identifier] {
			pr.logger.Debug("skipping recently updated issue", "phase", "phase2", "identifier", row.Identifier)
			continue
		}

		observed, err := mapper.ParseBoardStatus(task.Status)
		if err != nil {
			s.recordEntityError(pr, "phase2", row.Identifier, adapters.NewError(adapters.KindMalformed, "board.status", err))
			continue
		}
		mapped, err := mapper.BoardToPrimary(observed, row.Status)
		if err != nil {
			s.recordEntityError(pr, "phase2", row.Identifier, adapters.NewError(adapters.KindMalformed, "board.status", err))
			continue
		}
		if mapped == row.Status {
			continue
		}

		pr.res.writesAttempted++
		if s.opts.DryRun {
			pr.logger.Info("dry-run: would update primary issue",
				"phase", "phase2",
				"identifier", row.Identifier,
				"before", string(row.Status),
				"after", string(mapped))
			pr.res.writesSucceeded++
			pr.res.phase2++
			continue
		}

		if err := s.primary.UpdateIssueStatus(ctx, row.Identifier, string(mapped)); err != nil {
			s.recordEntityError(pr, "phase2", row.Identifier, err)
			continue
		}
		pr.res.writesSucceeded++
		pr.res.phase2++
		pr.logger.Info("synced board change to primary",
			"phase", "phase2",
			"identifier", row.Identifier,
			"before", string(row.Status),
			"after", string(mapped),
			"board_status", string(observed))
		s.events.Publish(agent.EventIssueChanged, pr.project.Identifier, row.Identifier,
			fmt.Sprintf("%s -> %s", row.Status, mapped))

		now := time.Now().UnixMilli()
		s.persistIssue(pr, "phase2", &store.Issue{
			ProjectIdentifier: pr.project.Identifier,
			Identifier:        row.Identifier,
			Title:             row.Title,
			Status:            mapped,
			BoardStatus:       &observed,
			IssueType:         row.IssueType,
			Priority:          row.Priority,
			PrimaryModifiedAt: &now,
			BoardModifiedAt:   task.UpdatedAtMillis(),
		})
		if pr.res.fatal {
			return
		}
	}
}

// phase3a pushes Primary state into the stack's Local store, creating
// missing local issues.
func (s *Syncer) phase3a(ctx context.Context, pr *projectSync) {
	for _, p := range pr.primaryIssues {
		row, err := s.store.GetIssue(pr.project.Identifier, p.Identifier)
		if err != nil {
			pr.res.fatal = true
			pr.res.addError(fmt.Sprintf("phase3a load %s: %v", p.Identifier, err))
			return
		}
		if row == nil {
			// Phase 1 could not establish a baseline (dry run or failure).
			continue
		}
		pr.res.entities++

		if row.LocalID == nil {
			s.createLocalIssue(ctx, pr, row)
			continue
		}

		desired, err := mapper.PrimaryToLocal(row.Status)
		if err != nil {
			s.recordEntityError(pr, "phase3a", row.Identifier, adapters.NewError(adapters.KindMalformed, "primary.status", err))
			continue
		}
		if row.LocalStatus != nil && *row.LocalStatus == desired {
			continue
		}

		pr.res.writesAttempted++
		if s.opts.DryRun {
			pr.logger.Info("dry-run: would flip local issue",
				"phase", "phase3a", "identifier", row.Identifier, "after", string(desired))
			pr.res.writesSucceeded++
			pr.res.phase3++
			continue
		}

		if desired == mapper.LocalClosed {
			err = s.local.CloseIssue(ctx, pr.path, *row.LocalID)
		} else {
			err = s.local.ReopenIssue(ctx, pr.path, *row.LocalID)
		}
		if err != nil {
			if adapters.IsNotFound(err) {
				pr.logger.Warn("local issue gone, clearing mapping",
					"identifier", row.Identifier, "local_id", *row.LocalID)
				if clearErr := s.store.ClearIssueLocalMapping(pr.project.Identifier, row.Identifier); clearErr != nil {
					pr.res.fatal = true
					pr.res.addError(fmt.Sprintf("phase3a clear %s: %v", row.Identifier, clearErr))
					return
				}
				continue
			}
			s.recordEntityError(pr, "phase3a", row.Identifier, err)
			continue
		}
		pr.res.writesSucceeded++
		pr.res.phase3++
		pr.logger.Info("synced primary change to local",
			"phase", "phase3a",
			"identifier", row.Identifier,
			"before", localStatusString(row.LocalStatus),
			"after", string(desired))
		pr.recently[row.Identifier] = true

		s.persistIssue(pr, "phase3a", &store.Issue{
			ProjectIdentifier: pr.project.Identifier,
			Identifier:        row.Identifier,
			Title:             row.Title,
			Status:            row.Status,
			LocalStatus:       &desired,
			IssueType:         row.IssueType,
			Priority:          row.Priority,
		})
		if pr.res.fatal {
			return
		}
	}
}

func (s *Syncer) createLocalIssue(ctx context.Context, pr *projectSync, row *store.Issue) {
	pr.res.writesAttempted++
	if s.opts.DryRun {
		pr.logger.Info("dry-run: would create local issue",
			"phase", "phase3a", "identifier", row.Identifier)
		pr.res.writesSucceeded++
		pr.res.phase3++
		return
	}

	prio, err := mapper.PriorityToLocal(row.Priority)
	if err != nil {
		prio, _ = mapper.PriorityToLocal(mapper.PriorityNone)
	}
	created, err := s.local.CreateIssue(ctx, pr.path, row.Title, string(row.IssueType), prio)
	if err != nil {
		s.recordEntityError(pr, "phase3a", row.Identifier, err)
		return
	}
	pr.res.writesSucceeded++
	pr.res.phase3++

	localStatus := mapper.LocalOpen
	if parsed, err := mapper.ParseLocalStatus(created.Status); err == nil {
		localStatus = parsed
	}
	pr.logger.Info("created local issue",
		"phase", "phase3a",
		"identifier", row.Identifier,
		"local_id", created.ID)
	s.events.Publish(agent.EventIssueChanged, pr.project.Identifier, row.Identifier, "local issue created")

	s.persistIssue(pr, "phase3a", &store.Issue{
		ProjectIdentifier: pr.project.Identifier,
		Identifier:        row.Identifier,
		Title:             row.Title,
		Status:            row.Status,
		LocalID:           &created.ID,
		LocalStatus:       &localStatus,
		IssueType:         row.IssueType,
		Priority:          row.Priority,
	})
}

// phase3b pulls Local open/closed flips back into Primary.
func (s *Syncer) phase3b(ctx context.Context, pr *projectSync) {
	locals, err := s.local.ListIssues(ctx, pr.path)
	if err != nil {
		s.recordEntityError(pr, "phase3b", pr.project.Identifier, err)
		return
	}

	for _, l := range locals {
		row, err := s.store.FindIssueByLocalID(pr.project.Identifier, l.ID)
		if err != nil {
			pr.res.fatal = true
			pr.res.addError(fmt.Sprintf("phase3b resolve %s: %v", l.ID, err))
			return
		}
		if row == nil {
			continue // local-only issue, not ours to sync
		}
		pr.res.entities++
		if pr.recently[row.Identifier] {
			pr.logger.Debug("skipping recently updated issue", "phase", "phase3b", "identifier", row.Identifier)
			continue
		}

		observed, err := mapper.ParseLocalStatus(l.Status)
		if err != nil {
			s.recordEntityError(pr, "phase3b", row.Identifier, adapters.NewError(adapters.KindMalformed, "local.status", err))
			continue
		}
		candidate, err := mapper.LocalToPrimary(observed, row.Status)
		if err != nil {
			s.recordEntityError(pr, "phase3b", row.Identifier, adapters.NewError(adapters.KindMalformed, "local.status", err))
			continue
		}
		if candidate == row.Status {
			if !s.opts.DryRun && (row.LocalStatus == nil || *row.LocalStatus != observed) {
				s.persistIssue(pr, "phase3b", &store.Issue{
					ProjectIdentifier: pr.project.Identifier,
					Identifier:        row.Identifier,
					Title:             row.Title,
					Status:            row.Status,
					LocalStatus:       &observed,
					IssueType:         row.IssueType,
					Priority:          row.Priority,
				})
			}
			continue
		}

		pr.res.writesAttempted++
		if s.opts.DryRun {
			pr.logger.Info("dry-run: would update primary issue",
				"phase", "phase3b",
				"identifier", row.Identifier,
				"before", string(row.Status),
				"after", string(candidate))
			pr.res.writesSucceeded++
			pr.res.phase3++
			continue
		}

		if err := s.primary.UpdateIssueStatus(ctx, row.Identifier, string(candidate)); err != nil {
			s.recordEntityError(pr, "phase3b", row.Identifier, err)
			continue
		}
		pr.res.writesSucceeded++
		pr.res.phase3++
		pr.logger.Info("synced local change to primary",
			"phase", "phase3b",
			"identifier", row.Identifier,
			"before", string(row.Status),
			"after", string(candidate),
			"local_status", string(observed))
		s.events.Publish(agent.EventIssueChanged, pr.project.Identifier, row.Identifier,
			fmt.Sprintf("%s -> %s", row.Status, candidate))

		now := time.Now().UnixMilli()
		s.persistIssue(pr, "phase3b", &store.Issue{
			ProjectIdentifier: pr.project.Identifier,
			Identifier:        row.Identifier,
			Title:             row.Title,
			Status:            candidate,
			LocalStatus:       &observed,
			IssueType:         row.IssueType,
			Priority:          row.Priority,
			PrimaryModifiedAt: &now,
		})
		if pr.res.fatal {
			return
		}
	}
}

func (s *Syncer) updateBoardTask(ctx context.Context, pr *projectSync, identifier, taskID, before, after string) error {
	pr.res.writesAttempted++
	if s.opts.DryRun {
		pr.logger.Info("dry-run: would update board task",
			"phase", "phase1", "identifier", identifier, "before", before, "after", after)
		pr.res.writesSucceeded++
		return nil
	}
	if err := s.board.UpdateTaskStatus(ctx, taskID, after); err != nil {
		return err
	}
	pr.res.writesSucceeded++
	pr.logger.Info("synced primary change to board",
		"phase", "phase1",
		"identifier", identifier,
		"before", before,
		"after", after)
	s.events.Publish(agent.EventIssueChanged, pr.project.Identifier, identifier,
		fmt.Sprintf("%s -> %s", before, after))
	return nil
}

func (s *Syncer) handleBoardWriteError(pr *projectSync, identifier, taskID string, err error) {
	if adapters.IsNotFound(err) {
		pr.logger.Warn("board task gone during update, clearing mapping",
			"identifier", identifier, "board_task_id", taskID)
		if !s.opts.DryRun {
			if clearErr := s.store.ClearIssueBoardMapping(pr.project.Identifier, identifier); clearErr != nil {
				pr.res.fatal = true
				pr.res.addError(fmt.Sprintf("phase1 clear %s: %v", identifier, clearErr))
			}
		}
		return
	}
	s.recordEntityError(pr, "phase1", identifier, err)
}

// recordEntityError applies the per-kind policy: forbidden logs are
// rate-limited, everything else logs per occurrence. All kinds count
// against the cycle's error total.
func (s *Syncer) recordEntityError(pr *projectSync, phase, identifier string, err error) {
	kind := adapters.KindOf(err)
	if kind == adapters.KindForbidden {
		s.logForbidden(pr.project.Identifier, err)
	} else {
		pr.logger.Warn("entity sync failed",
			"phase", phase, "identifier", identifier, "kind", kind.String(), "error", err)
	}
	pr.res.addError(fmt.Sprintf("%s %s: %v", phase, identifier, err))
}

// persistIssue writes a row unless dry-run is on; store failures are fatal
// for the cycle.
func (s *Syncer) persistIssue(pr *projectSync, phase string, i *store.Issue) {
	if s.opts.DryRun {
		return
	}
	if err := s.store.UpsertIssue(i); err != nil {
		pr.res.fatal = true
		pr.res.addError(fmt.Sprintf("%s persist %s: %v", phase, i.Identifier, err))
	}
}

func issueTypeOf(p primary.Issue) mapper.IssueType {
	if t, err := mapper.ParseIssueType(p.Type); err == nil {
		return t
	}
	return mapper.TypeTask
}

func priorityOf(p primary.Issue) mapper.Priority {
	if pr, err := mapper.ParsePriority(p.Priority); err == nil {
		return pr
	}
	return mapper.PriorityNone
}

func int64PtrValue(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func localStatusString(l *mapper.LocalStatus) string {
	if l == nil {
		return ""
	}
	return string(*l)
}
