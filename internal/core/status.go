// Package core defines the canonical lifecycle enums shared by the wait
// engine, the task journal, and the HTTP surface. Statuses arrive as strings
// from callers and from persisted rows; every ingress goes through the Parse
// functions here so that aliases (notably "canceled") never leak inward.
package core

import "fmt"

// WaitStatus represents the lifecycle phases of a wait job.
type WaitStatus int

const (
	WaitWatching WaitStatus = iota
	WaitResolved
	WaitTimeout
	WaitCancelled
	// WaitError is accepted on ingress and storable, but no scheduler path
	// currently produces it.
	WaitError
)

// String returns the canonical lowercase token used across APIs, logs, and
// persisted rows.
func (s WaitStatus) String() string {
	switch s {
	case WaitWatching:
		return "watching"
	case WaitResolved:
		return "resolved"
	case WaitTimeout:
		return "timeout"
	case WaitCancelled:
		return "cancelled"
	case WaitError:
		return "error"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status is final. A terminal status is
// monotonic: once set the job never re-enters the scheduler.
func (s WaitStatus) IsTerminal() bool {
	return s != WaitWatching
}

// ParseWaitStatus converts an external token to a WaitStatus, accepting the
// "canceled" spelling as an alias.
func ParseWaitStatus(v string) (WaitStatus, error) {
	switch normalize(v) {
	case "watching":
		return WaitWatching, nil
	case "resolved":
		return WaitResolved, nil
	case "timeout":
		return WaitTimeout, nil
	case "cancelled":
		return WaitCancelled, nil
	case "error":
		return WaitError, nil
	default:
		return WaitWatching, fmt.Errorf("invalid wait status: %q", v)
	}
}

// TaskStatus represents the lifecycle phases of a task.
type TaskStatus int

const (
	TaskActive TaskStatus = iota
	TaskPaused
	TaskCompleted
	TaskFailed
	TaskCancelled
)

func (s TaskStatus) String() string {
	switch s {
	case TaskActive:
		return "active"
	case TaskPaused:
		return "paused"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the task status is final. Terminal transitions
// trigger display release.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// ParseTaskStatus converts an external token to a TaskStatus, accepting the
// "canceled" alias.
func ParseTaskStatus(v string) (TaskStatus, error) {
	switch normalize(v) {
	case "active":
		return TaskActive, nil
	case "paused":
		return TaskPaused, nil
	case "completed":
		return TaskCompleted, nil
	case "failed":
		return TaskFailed, nil
	case "cancelled":
		return TaskCancelled, nil
	default:
		return TaskActive, fmt.Errorf("invalid task status: %q", v)
	}
}

// ItemStatus represents the lifecycle phases of a plan item.
type ItemStatus int

const (
	ItemPending ItemStatus = iota
	ItemActive
	ItemCompleted
	ItemFailed
	ItemSkipped
)

func (s ItemStatus) String() string {
	switch s {
	case ItemPending:
		return "pending"
	case ItemActive:
		return "active"
	case ItemCompleted:
		return "completed"
	case ItemFailed:
		return "failed"
	case ItemSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the item status closes the item; terminal
// transitions compute the item's duration.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemCompleted || s == ItemFailed || s == ItemSkipped
}

// ParseItemStatus converts an external token to an ItemStatus.
func ParseItemStatus(v string) (ItemStatus, error) {
	switch normalize(v) {
	case "pending":
		return ItemPending, nil
	case "active":
		return ItemActive, nil
	case "completed":
		return ItemCompleted, nil
	case "failed":
		return ItemFailed, nil
	case "skipped":
		return ItemSkipped, nil
	default:
		return ItemPending, fmt.Errorf("invalid plan item status: %q", v)
	}
}

// ActionStatus represents the lifecycle phases of an action.
type ActionStatus int

const (
	ActionStarted ActionStatus = iota
	ActionCompleted
	ActionFailed
)

func (s ActionStatus) String() string {
	switch s {
	case ActionStarted:
		return "started"
	case ActionCompleted:
		return "completed"
	case ActionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseActionStatus converts an external token to an ActionStatus.
func ParseActionStatus(v string) (ActionStatus, error) {
	switch normalize(v) {
	case "started":
		return ActionStarted, nil
	case "completed":
		return ActionCompleted, nil
	case "failed":
		return ActionFailed, nil
	default:
		return ActionCompleted, fmt.Errorf("invalid action status: %q", v)
	}
}
