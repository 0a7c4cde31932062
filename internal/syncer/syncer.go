// Package syncer runs the four-phase sync cycle between the Primary
// tracker, the Board, and the per-stack Local stores, with the state store
// as the change-detection baseline.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stacksync/stacksync/internal/adapters/board"
	"github.com/stacksync/stacksync/internal/adapters/local"
	"github.com/stacksync/stacksync/internal/adapters/primary"
	"github.com/stacksync/stacksync/internal/agent"
	"github.com/stacksync/stacksync/internal/logging"
	"github.com/stacksync/stacksync/internal/stacks"
	"github.com/stacksync/stacksync/internal/store"
)

// PrimaryClient is the Primary tracker surface the syncer needs.
type PrimaryClient interface {
	ListProjects(ctx context.Context) ([]primary.Project, error)
	ListIssues(ctx context.Context, projectID string, modifiedAfter *time.Time) ([]primary.Issue, error)
	UpdateIssueStatus(ctx context.Context, identifier, status string) error
}

// BoardClient is the Board surface the syncer needs.
type BoardClient interface {
	ListProjects(ctx context.Context) ([]board.Project, error)
	CreateProject(ctx context.Context, name string) (*board.Project, error)
	ListTasks(ctx context.Context, projectID string) ([]board.Task, error)
	CreateTask(ctx context.Context, projectID, title, description, status string) (*board.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID, status string) error
}

// LocalClient is the Local store surface the syncer needs.
type LocalClient interface {
	HasStore(projectPath string) bool
	ListIssues(ctx context.Context, projectPath string) ([]local.Issue, error)
	CreateIssue(ctx context.Context, projectPath, title, issueType string, priority int) (*local.Issue, error)
	CloseIssue(ctx context.Context, projectPath, id string) error
	ReopenIssue(ctx context.Context, projectPath, id string) error
}

// Options tune one Syncer instance.
type Options struct {
	Incremental       bool
	Parallel          bool
	MaxWorkers        int
	DryRun            bool
	SkipEmptyProjects bool
	Projects          []string // allow-list of Primary identifiers; empty means all
}

// Syncer owns the cycle loop state: backoff ledger, forbidden-log
// rate limiter, and the last cycle report for the health surface.
type Syncer struct {
	store   *store.Store
	primary PrimaryClient
	board   BoardClient
	local   LocalClient
	stacks  *stacks.Index
	events  *agent.Sink
	opts    Options

	mu              sync.Mutex
	backoff         map[string]*projectBackoff
	forbiddenLogged map[string]time.Time
	lastReport      *Report
	dryCycleStreak  int // consecutive cycles with attempted writes but zero successes
}

type projectBackoff struct {
	consecutiveFailures int
	retryAfter          time.Time
}

// Backoff ladder applied after three consecutive failed cycles for the
// same project.
var backoffLadder = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}

// New creates a Syncer. The stacks index may be nil when no stacks dir is
// configured; Phase 3 is then skipped for every project.
func New(st *store.Store, pc PrimaryClient, bc BoardClient, lc LocalClient, idx *stacks.Index, events *agent.Sink, opts Options) *Syncer {
	if events == nil {
		events = agent.NewSink(0)
	}
	return &Syncer{
		store:           st,
		primary:         pc,
		board:           bc,
		local:           lc,
		stacks:          idx,
		events:          events,
		opts:            opts,
		backoff:         map[string]*projectBackoff{},
		forbiddenLogged: map[string]time.Time{},
	}
}

// RunCycle executes one full sync cycle and returns its report. The report
// is also retained for the health snapshot. RunCycle never panics the
// process on adapter failures; a cycle that cannot even enumerate projects
// comes back with Completed=false.
func (s *Syncer) RunCycle(ctx context.Context) *Report {
	report := &Report{
		CycleID:   uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	logger := logging.WithComponent("syncer").With("cycle", report.CycleID)
	logger.Info("cycle started", "dry_run", s.opts.DryRun, "incremental", s.opts.Incremental)

	s.runCycle(ctx, report, logger)

	report.DurationMS = time.Since(report.StartedAt).Milliseconds()
	s.finishReport(report)
	logger.Info("cycle finished",
		"completed", report.Completed,
		"duration_ms", report.DurationMS,
		"phase1", report.Phase1Count,
		"phase2", report.Phase2Count,
		"phase3", report.Phase3Count,
		"errors", len(report.Errors))
	return report
}

func (s *Syncer) runCycle(ctx context.Context, report *Report, logger *slog.Logger) {
	projects, err := s.primary.ListProjects(ctx)
	if err != nil {
		report.addError(fmt.Sprintf("list primary projects: %v", err))
		logger.Error("cannot enumerate primary projects, aborting cycle", "error", err)
		return
	}

	var watermark *time.Time
	if s.opts.Incremental {
		wm, err := s.store.LastSyncWatermark()
		if err != nil {
			logger.Warn("invalid sync watermark, falling back to full listing", "error", err)
		} else if !wm.IsZero() {
			watermark = &wm
		}
	}

	boardProjects, err := s.board.ListProjects(ctx)
	if err != nil {
		report.addError(fmt.Sprintf("list board projects: %v", err))
		logger.Error("cannot enumerate board projects, aborting cycle", "error", err)
		return
	}
	boardByName := make(map[string]board.Project, len(boardProjects))
	for _, bp := range boardProjects {
		boardByName[strings.ToLower(bp.Name)] = bp
	}

	active := s.filterProjects(projects)
	now := time.Now()
	var runnable []primary.Project
	for _, p := range active {
		if wait := s.backoffRemaining(p.Identifier, now); wait > 0 {
			logger.Info("project in backoff, skipping", "project", p.Identifier, "retry_in", wait.Round(time.Second).String())
			report.SkippedProjects++
			continue
		}
		runnable = append(runnable, p)
	}

	results := make([]*projectResult, len(runnable))
	if s.opts.Parallel && s.opts.MaxWorkers > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.MaxWorkers)
		for i, p := range runnable {
			i, p := i, p
			g.Go(func() error {
				results[i] = s.syncProject(gctx, p, watermark, boardByName)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, p := range runnable {
			results[i] = s.syncProject(ctx, p, watermark, boardByName)
		}
	}

	for i, res := range results {
		if res == nil {
			continue
		}
		report.merge(res)
		s.noteProjectOutcome(runnable[i].Identifier, res.failed())
		if !res.failed() && !s.opts.DryRun {
			if err := s.store.MarkProjectSynced(runnable[i].Identifier); err != nil {
				report.addError(fmt.Sprintf("mark %s synced: %v", runnable[i].Identifier, err))
			}
		}
	}

	report.Completed = ctx.Err() == nil

	// The watermark only advances when every active project synced cleanly;
	// a partial cycle must re-list from the previous watermark next time.
	if report.Completed && len(report.Errors) == 0 && report.SkippedProjects == 0 && !s.opts.DryRun {
		if err := s.store.SetLastSyncWatermark(report.StartedAt); err != nil {
			report.addError(fmt.Sprintf("advance watermark: %v", err))
		}
	}
}

func (s *Syncer) filterProjects(projects []primary.Project) []primary.Project {
	if len(s.opts.Projects) == 0 {
		return projects
	}
	allowed := make(map[string]bool, len(s.opts.Projects))
	for _, id := range s.opts.Projects {
		allowed[strings.ToLower(id)] = true
	}
	var out []primary.Project
	for _, p := range projects {
		if allowed[strings.ToLower(p.Identifier)] {
			out = append(out, p)
		}
	}
	return out
}

func (s *Syncer) backoffRemaining(identifier string, now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.backoff[identifier]
	if !ok || now.After(b.retryAfter) {
		return 0
	}
	return b.retryAfter.Sub(now)
}

// noteProjectOutcome maintains the per-project failure streak. Three
// consecutive failed cycles start the backoff ladder.
func (s *Syncer) noteProjectOutcome(identifier string, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !failed {
		delete(s.backoff, identifier)
		return
	}
	b, ok := s.backoff[identifier]
	if !ok {
		b = &projectBackoff{}
		s.backoff[identifier] = b
	}
	b.consecutiveFailures++
	if b.consecutiveFailures >= 3 {
		step := b.consecutiveFailures - 3
		if step >= len(backoffLadder) {
			step = len(backoffLadder) - 1
		}
		b.retryAfter = time.Now().Add(backoffLadder[step])
	}
}

// logForbidden rate-limits forbidden-error logging to once per project
// per hour.
func (s *Syncer) logForbidden(project string, err error) {
	s.mu.Lock()
	last, seen := s.forbiddenLogged[project]
	shouldLog := !seen || time.Since(last) >= time.Hour
	if shouldLog {
		s.forbiddenLogged[project] = time.Now()
	}
	s.mu.Unlock()

	if shouldLog {
		logging.WithProject(project).Warn("access forbidden, skipping", "error", err)
	}
}
