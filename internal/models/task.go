// Package models defines the persisted row types of the task journal and
// the JSON shapes exchanged with the outer agent.
package models

import (
	"encoding/json"
	"time"
)

// Task is one row of the tasks table.
type Task struct {
	ID        string    `json:"task_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Metadata  TaskMeta  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlanItem is one ordered step of a task's checklist.
type PlanItem struct {
	ID          string     `json:"-"`
	TaskID      string     `json:"-"`
	Ordinal     int        `json:"ordinal"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationSec *float64   `json:"duration_s,omitempty"`
}

// Action is the atomic unit of progress under a plan item.
type Action struct {
	ID         string      `json:"id"`
	PlanItemID string      `json:"-"`
	TaskID     string      `json:"-"`
	Kind       string      `json:"action_type"`
	Summary    string      `json:"summary"`
	Status     string      `json:"status"`
	Input      string      `json:"input_data,omitempty"`
	Output     string      `json:"output_data,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	Logs       []ActionLog `json:"logs,omitempty"`
}

// ActionLog is a free-form note attached to an action, e.g. a vision
// verdict recorded while a wait job polls.
type ActionLog struct {
	ID        string    `json:"id"`
	ActionID  string    `json:"-"`
	Kind      string    `json:"log_type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskMessage is one entry of a task's message thread.
type TaskMessage struct {
	ID        string    `json:"-"`
	TaskID    string    `json:"-"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Kind      string    `json:"msg_type"`
	CreatedAt time.Time `json:"created_at"`
}

// Message kinds stored in task_messages.msg_type.
const (
	MsgText      = "text"
	MsgLifecycle = "lifecycle"
	MsgProgress  = "progress"
	MsgWait      = "wait"
	MsgStuck     = "stuck"
	MsgPlan      = "plan"
)

// TaskMeta is the opaque metadata column of a task. A small fixed set of
// keys is recognized; everything else round-trips untouched.
type TaskMeta map[string]any

// Recognized metadata keys.
const (
	MetaDisplay           = "display"
	MetaDisplayNum        = "display_num"
	MetaDisplayResolution = "display_resolution"
	MetaActiveWaitIDs     = "active_wait_ids"
	MetaLastWaitState     = "last_wait_state"
	MetaLastWaitEventAt   = "last_wait_event_at"
	MetaLastStuckAlertAt  = "last_stuck_alert_at"
)

// ParseTaskMeta decodes the metadata JSON column, tolerating malformed
// input, and normalizes the recognized keys.
func ParseTaskMeta(raw string) TaskMeta {
	meta := TaskMeta{}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &meta)
	}
	meta[MetaActiveWaitIDs] = meta.ActiveWaitIDs()
	return meta
}

// Encode serializes the metadata back to its JSON column form.
func (m TaskMeta) Encode() string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ActiveWaitIDs returns the active wait-job ids, dropping non-string and
// empty entries.
func (m TaskMeta) ActiveWaitIDs() []string {
	raw, ok := m[MetaActiveWaitIDs].([]any)
	if !ok {
		if ids, ok := m[MetaActiveWaitIDs].([]string); ok {
			return ids
		}
		return []string{}
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			ids = append(ids, s)
		}
	}
	return ids
}

// SetActiveWaitIDs replaces the active wait-job id list.
func (m TaskMeta) SetActiveWaitIDs(ids []string) {
	m[MetaActiveWaitIDs] = ids
}

// Display returns the task's display string, or empty.
func (m TaskMeta) Display() string {
	s, _ := m[MetaDisplay].(string)
	return s
}

// EpochTime reads a float-seconds epoch key, returning the zero time when
// absent or malformed.
func (m TaskMeta) EpochTime(key string) time.Time {
	switch v := m[key].(type) {
	case float64:
		return epochToTime(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}
		}
		return epochToTime(f)
	default:
		return time.Time{}
	}
}

func epochToTime(v float64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	sec := int64(v)
	return time.Unix(sec, int64((v-float64(sec))*1e9))
}

// SetEpochTime stores t under key as float seconds.
func (m TaskMeta) SetEpochTime(key string, t time.Time) {
	m[key] = float64(t.UnixNano()) / 1e9
}
