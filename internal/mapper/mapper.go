// Package mapper translates status, priority, and type values between the
// three backend vocabularies. All functions are pure and total: unrecognized
// input yields an *UnmappedError, never a silent default.
package mapper

import (
	"fmt"
	"strings"
)

// PrimaryStatus is a workflow status in the Primary tracker.
type PrimaryStatus string

const (
	PrimaryBacklog    PrimaryStatus = "Backlog"
	PrimaryTodo       PrimaryStatus = "Todo"
	PrimaryInProgress PrimaryStatus = "InProgress"
	PrimaryDone       PrimaryStatus = "Done"
	PrimaryCancelled  PrimaryStatus = "Cancelled"
)

// BoardStatus is a column status on the Board.
type BoardStatus string

const (
	BoardTodo       BoardStatus = "todo"
	BoardInProgress BoardStatus = "inprogress"
	BoardInReview   BoardStatus = "inreview"
	BoardDone       BoardStatus = "done"
	BoardCancelled  BoardStatus = "cancelled"
)

// LocalStatus is the coarse open/closed state of the Local store.
type LocalStatus string

const (
	LocalOpen   LocalStatus = "open"
	LocalClosed LocalStatus = "closed"
)

// Priority is the five-level Primary priority scale.
type Priority string

const (
	PriorityNone   Priority = "NoPriority"
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
	PriorityUrgent Priority = "Urgent"
)

// IssueType is identity-mapped across all three backends.
type IssueType string

const (
	TypeTask    IssueType = "task"
	TypeBug     IssueType = "bug"
	TypeFeature IssueType = "feature"
	TypeEpic    IssueType = "epic"
	TypeChore   IssueType = "chore"
)

// UnmappedError reports a value outside a backend's known vocabulary.
type UnmappedError struct {
	Axis  string // "status", "priority", "type"
	Side  string // "primary", "board", "local"
	Value string
}

func (e *UnmappedError) Error() string {
	return fmt.Sprintf("unmapped %s %s value %q", e.Side, e.Axis, e.Value)
}

// ParsePrimaryStatus validates a raw Primary status string.
func ParsePrimaryStatus(s string) (PrimaryStatus, error) {
	switch PrimaryStatus(s) {
	case PrimaryBacklog, PrimaryTodo, PrimaryInProgress, PrimaryDone, PrimaryCancelled:
		return PrimaryStatus(s), nil
	}
	return "", &UnmappedError{Axis: "status", Side: "primary", Value: s}
}

// ParseBoardStatus validates a raw Board status string. Matching is
// case-insensitive since boards tend to title-case their columns.
func ParseBoardStatus(s string) (BoardStatus, error) {
	switch BoardStatus(strings.ToLower(s)) {
	case BoardTodo, BoardInProgress, BoardInReview, BoardDone, BoardCancelled:
		return BoardStatus(strings.ToLower(s)), nil
	}
	return "", &UnmappedError{Axis: "status", Side: "board", Value: s}
}

// ParseLocalStatus validates a raw Local status string.
func ParseLocalStatus(s string) (LocalStatus, error) {
	switch LocalStatus(strings.ToLower(s)) {
	case LocalOpen, LocalClosed:
		return LocalStatus(strings.ToLower(s)), nil
	}
	return "", &UnmappedError{Axis: "status", Side: "local", Value: s}
}

// PrimaryToBoard maps a Primary status onto a Board column.
// Backlog and Todo collapse onto the same column.
func PrimaryToBoard(s PrimaryStatus) (BoardStatus, error) {
	switch s {
	case PrimaryBacklog, PrimaryTodo:
		return BoardTodo, nil
	case PrimaryInProgress:
		return BoardInProgress, nil
	case PrimaryDone:
		return BoardDone, nil
	case PrimaryCancelled:
		return BoardCancelled, nil
	}
	return "", &UnmappedError{Axis: "status", Side: "primary", Value: string(s)}
}

// BoardToPrimary maps a Board column back onto a Primary status. The board
// is coarser than Primary in two spots: "todo" covers both Backlog and Todo,
// and "inreview" has no Primary counterpart. The fallback (the last known
// Primary status) resolves "todo" so no spurious change is emitted.
func BoardToPrimary(b BoardStatus, fallback PrimaryStatus) (PrimaryStatus, error) {
	switch b {
	case BoardTodo:
		if fallback == PrimaryBacklog || fallback == PrimaryTodo {
			return fallback, nil
		}
		return PrimaryTodo, nil
	case BoardInProgress, BoardInReview:
		return PrimaryInProgress, nil
	case BoardDone:
		return PrimaryDone, nil
	case BoardCancelled:
		return PrimaryCancelled, nil
	}
	return "", &UnmappedError{Axis: "status", Side: "board", Value: string(b)}
}

// PrimaryToLocal maps a Primary status onto the coarse Local open/closed state.
func PrimaryToLocal(s PrimaryStatus) (LocalStatus, error) {
	switch s {
	case PrimaryBacklog, PrimaryTodo, PrimaryInProgress:
		return LocalOpen, nil
	case PrimaryDone, PrimaryCancelled:
		return LocalClosed, nil
	}
	return "", &UnmappedError{Axis: "status", Side: "primary", Value: string(s)}
}

// LocalToPrimary maps a Local observation onto a Primary status. Local is
// coarser than Primary, so a "open" observation must never demote a richer
// Primary state that is already open: only a closed→open flip produces a
// change. Likewise "closed" keeps an existing Cancelled rather than
// resurrecting it as Done.
func LocalToPrimary(l LocalStatus, current PrimaryStatus) (PrimaryStatus, error) {
	switch l {
	case LocalClosed:
		if current == PrimaryCancelled {
			return PrimaryCancelled, nil
		}
		return PrimaryDone, nil
	case LocalOpen:
		if current == PrimaryDone || current == PrimaryCancelled {
			return PrimaryInProgress, nil
		}
		return current, nil
	}
	return "", &UnmappedError{Axis: "status", Side: "local", Value: string(l)}
}

// PriorityToLocal maps a Primary priority onto the Local 1..5 numeric scale,
// 1 being the most urgent.
func PriorityToLocal(p Priority) (int, error) {
	switch p {
	case PriorityUrgent:
		return 1, nil
	case PriorityHigh:
		return 2, nil
	case PriorityMedium:
		return 3, nil
	case PriorityLow:
		return 4, nil
	case PriorityNone:
		return 5, nil
	}
	return 0, &UnmappedError{Axis: "priority", Side: "primary", Value: string(p)}
}

// PriorityFromLocal maps a Local numeric priority back onto the Primary scale.
func PriorityFromLocal(n int) (Priority, error) {
	switch n {
	case 1:
		return PriorityUrgent, nil
	case 2:
		return PriorityHigh, nil
	case 3:
		return PriorityMedium, nil
	case 4:
		return PriorityLow, nil
	case 5:
		return PriorityNone, nil
	}
	return "", &UnmappedError{Axis: "priority", Side: "local", Value: fmt.Sprintf("%d", n)}
}

// ParsePriority validates a raw Primary priority string.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityNone, PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return Priority(s), nil
	}
	return "", &UnmappedError{Axis: "priority", Side: "primary", Value: s}
}

// ParseIssueType validates an issue type string. Types share one vocabulary
// across all three backends.
func ParseIssueType(s string) (IssueType, error) {
	switch IssueType(strings.ToLower(s)) {
	case TypeTask, TypeBug, TypeFeature, TypeEpic, TypeChore:
		return IssueType(strings.ToLower(s)), nil
	}
	return "", &UnmappedError{Axis: "type", Side: "primary", Value: s}
}
