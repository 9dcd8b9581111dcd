package models

import "time"

// WaitRow is the durable slice of a wait job: what the wait_jobs table
// stores. Runtime state (context, poller, diff gate) lives with the
// scheduler and is never persisted.
type WaitRow struct {
	ID           string     `json:"wait_id"`
	TaskID       string     `json:"task_id,omitempty"`
	TargetKind   string     `json:"target_type"`
	TargetID     string     `json:"target_id"`
	Criteria     string     `json:"criteria"`
	TimeoutSec   int        `json:"timeout_seconds"`
	PollInterval float64    `json:"poll_interval"`
	Status       string     `json:"status"`
	Result       string     `json:"result_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// Target renders the wire form "<kind>:<id>".
func (w WaitRow) Target() string {
	return w.TargetKind + ":" + w.TargetID
}

// ScreenshotRefs points at the saved files for one screenshot, relative to
// the screenshots directory.
type ScreenshotRefs struct {
	Full  string `json:"full"`
	Thumb string `json:"thumb,omitempty"`
}

// VerdictRecord is one vision round-trip outcome as reported in wait-status
// replies.
type VerdictRecord struct {
	Result      string    `json:"result"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// ResumePacket is the structured snapshot embedded in a task_stuck_resume
// wake event.
type ResumePacket struct {
	TaskID         string         `json:"task_id"`
	Name           string         `json:"name"`
	Status         string         `json:"status"`
	Progress       ResumeProgress `json:"progress"`
	Items          []PlanItem     `json:"items"`
	CurrentActions []Action       `json:"current_actions,omitempty"`
	RecentMessages []TaskMessage  `json:"recent_messages"`
	Wait           ResumeWait     `json:"wait"`
	Reason         string         `json:"reason"`
}

// ResumeProgress summarizes plan-item completion for a resume packet.
type ResumeProgress struct {
	Completed   []int   `json:"completed"`
	Current     *int    `json:"current"`
	CurrentName string  `json:"current_name,omitempty"`
	Remaining   []int   `json:"remaining"`
	Pct         float64 `json:"pct"`
}

// ResumeWait summarizes wait state for a resume packet.
type ResumeWait struct {
	ActiveWaitIDs   []string `json:"active_wait_ids"`
	LastWaitState   string   `json:"last_wait_state,omitempty"`
	LastWaitEventAt *float64 `json:"last_wait_event_at,omitempty"`
}
