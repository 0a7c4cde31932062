package syncer

import (
	"sync"
	"time"
)

// Health status values exposed on /health.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// degradedErrorRate is the per-cycle entity error rate above which a
// completed cycle still reports degraded.
const degradedErrorRate = 0.05

// Report summarizes one sync cycle.
type Report struct {
	CycleID         string    `json:"cycleId"`
	StartedAt       time.Time `json:"startedAt"`
	DurationMS      int64     `json:"durationMs"`
	Phase1Count     int       `json:"phase1Count"`
	Phase2Count     int       `json:"phase2Count"`
	Phase3Count     int       `json:"phase3Count"`
	Errors          []string  `json:"errors"`
	Completed       bool      `json:"completed"`
	SkippedProjects int       `json:"skippedProjects,omitempty"`

	Entities        int `json:"-"`
	WritesAttempted int `json:"-"`
	WritesSucceeded int `json:"-"`

	mu sync.Mutex
}

func (r *Report) addError(msg string) {
	r.mu.Lock()
	r.Errors = append(r.Errors, msg)
	r.mu.Unlock()
}

// projectResult is one project's contribution to the cycle report, built
// without locking so project syncs can run in parallel.
type projectResult struct {
	phase1, phase2, phase3 int
	entities               int
	writesAttempted        int
	writesSucceeded        int
	errors                 []string
	fatal                  bool
}

func (p *projectResult) addError(msg string) {
	p.errors = append(p.errors, msg)
}

func (p *projectResult) failed() bool {
	return p.fatal || len(p.errors) > 0
}

func (r *Report) merge(p *projectResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Phase1Count += p.phase1
	r.Phase2Count += p.phase2
	r.Phase3Count += p.phase3
	r.Entities += p.entities
	r.WritesAttempted += p.writesAttempted
	r.WritesSucceeded += p.writesSucceeded
	r.Errors = append(r.Errors, p.errors...)
}

// Snapshot is the health surface view of the syncer.
type Snapshot struct {
	Status    string  `json:"status"`
	LastCycle *Report `json:"lastCycle,omitempty"`
}

// finishReport retains the report and updates the zero-write streak used
// by the health status.
func (s *Syncer) finishReport(report *Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReport = report
	if report.WritesAttempted > 0 && report.WritesSucceeded == 0 {
		s.dryCycleStreak++
	} else {
		s.dryCycleStreak = 0
	}
}

// Snapshot returns the current health status. Before the first cycle the
// daemon reports degraded: it is up, but has proven nothing yet.
func (s *Syncer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastReport == nil {
		return Snapshot{Status: StatusDegraded}
	}

	status := StatusHealthy
	switch {
	case !s.lastReport.Completed:
		status = StatusUnhealthy
	case s.dryCycleStreak >= 3:
		// Writes keep being attempted and none succeed.
		status = StatusUnhealthy
	case len(s.lastReport.Errors) > 0:
		status = StatusDegraded
		if s.lastReport.Entities > 0 &&
			float64(len(s.lastReport.Errors))/float64(s.lastReport.Entities) < degradedErrorRate {
			status = StatusHealthy
		}
	}
	return Snapshot{Status: status, LastCycle: s.lastReport}
}
