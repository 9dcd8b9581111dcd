package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/vigil-run/vigil/internal/core"
	"github.com/vigil-run/vigil/internal/models"
)

// Detail levels for GetSummary, coarsest first.
const (
	DetailItems   = "items"
	DetailFocused = "focused"
	DetailActions = "actions"
	DetailFull    = "full"
)

// Summary is a task snapshot at a chosen detail level. Items are always
// present; Actions cover the current item (focused), every item (actions),
// or every item with logs plus the recent thread (full).
type Summary struct {
	Task     *models.Task          `json:"task"`
	Progress models.ResumeProgress `json:"progress"`
	Items    []models.PlanItem     `json:"items"`
	Actions  []models.Action       `json:"actions,omitempty"`
	Messages []models.TaskMessage  `json:"recent_messages,omitempty"`
}

// GetSummary builds a Summary for the task at the given detail level.
func (s *Store) GetSummary(ctx context.Context, taskID, detail string) (*Summary, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	items, err := s.listPlanItems(ctx, taskID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Task: task, Items: items, Progress: computeProgress(items)}

	switch detail {
	case "", DetailItems:
	case DetailFocused:
		if itemID := s.currentItemID(ctx, taskID); itemID.Valid {
			summary.Actions, err = s.listActions(ctx, taskID, &itemID.String, false)
		}
	case DetailActions:
		summary.Actions, err = s.listActions(ctx, taskID, nil, false)
	case DetailFull:
		summary.Actions, err = s.listActions(ctx, taskID, nil, true)
		if err == nil {
			summary.Messages, err = s.listMessages(ctx, taskID, 10)
		}
	default:
		return nil, fmt.Errorf("invalid detail level: %q", detail)
	}
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// TaskAnswer is the structured reply to a task query: the progress snapshot
// plus a one-line natural-language answer.
type TaskAnswer struct {
	Task     *models.Task          `json:"task"`
	Query    string                `json:"query"`
	Progress models.ResumeProgress `json:"progress"`
	Items    []models.PlanItem     `json:"items"`
	Answer   string                `json:"answer"`
}

// QueryTask answers a progress question about a task. The answer is derived
// from the plan state; the query text is echoed back, not interpreted.
func (s *Store) QueryTask(ctx context.Context, taskID, query string) (*TaskAnswer, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	items, err := s.listPlanItems(ctx, taskID)
	if err != nil {
		return nil, err
	}
	progress := computeProgress(items)

	titles := make(map[int]string, len(items))
	for _, item := range items {
		titles[item.Ordinal] = item.Title
	}
	completed := make([]string, 0, len(progress.Completed))
	for _, ord := range progress.Completed {
		completed = append(completed, titles[ord])
	}
	remaining := make([]string, 0, len(progress.Remaining))
	for _, ord := range progress.Remaining {
		remaining = append(remaining, titles[ord])
	}
	current := progress.CurrentName
	if current == "" {
		current = "none"
	}

	answer := fmt.Sprintf("Task %q is %s at %.0f%%. Completed: [%s]. Current: %s. Remaining: [%s].",
		task.Name, task.Status, progress.Pct,
		strings.Join(completed, ", "), current, strings.Join(remaining, ", "))

	return &TaskAnswer{
		Task:     task,
		Query:    query,
		Progress: progress,
		Items:    items,
		Answer:   answer,
	}, nil
}

// GetTaskDetail drills into one plan item: the item plus its actions with
// their logs.
func (s *Store) GetTaskDetail(ctx context.Context, taskID string, ordinal int) (*models.PlanItem, []models.Action, error) {
	item, err := s.getPlanItem(ctx, taskID, ordinal)
	if err != nil {
		return nil, nil, err
	}
	actions, err := s.listActions(ctx, taskID, &item.ID, true)
	if err != nil {
		return nil, nil, err
	}
	return item, actions, nil
}

// GetThread returns the task's most recent messages (oldest first) together
// with its plan items.
func (s *Store) GetThread(ctx context.Context, taskID string, limit int) ([]models.TaskMessage, []models.PlanItem, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	messages, err := s.listMessages(ctx, taskID, limit)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.listPlanItems(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	return messages, items, nil
}

// ListTasks returns tasks filtered by status ("all" or empty for every
// status), newest activity first.
func (s *Store) ListTasks(ctx context.Context, status string, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, name, status, metadata, created_at, updated_at FROM tasks`
	args := []any{}
	if status != "" && status != "all" {
		parsed, err := core.ParseTaskStatus(status)
		if err != nil {
			return nil, err
		}
		query += ` WHERE status = ?`
		args = append(args, parsed.String())
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []models.Task
	for rows.Next() {
		var t models.Task
		var meta, created, updated string
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &meta, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Metadata = models.ParseTaskMeta(meta)
		t.CreatedAt = parseTS(created)
		t.UpdatedAt = parseTS(updated)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ActiveTasks returns every task in active status. Used by the stuck
// detector.
func (s *Store) ActiveTasks(ctx context.Context) ([]models.Task, error) {
	return s.ListTasks(ctx, core.TaskActive.String(), 1000)
}

func (s *Store) listPlanItems(ctx context.Context, taskID string) ([]models.PlanItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, ordinal, title, status, started_at, completed_at, duration_seconds
		 FROM plan_items WHERE task_id = ? ORDER BY ordinal`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []models.PlanItem
	for rows.Next() {
		item, err := scanPlanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *Store) listActions(ctx context.Context, taskID string, itemID *string, withLogs bool) ([]models.Action, error) {
	query := `SELECT id, task_id, plan_item_id, action_type, summary, status, input_data, output_data, created_at
	          FROM actions WHERE task_id = ?`
	args := []any{taskID}
	if itemID != nil {
		query += ` AND plan_item_id = ?`
		args = append(args, *itemID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var actions []models.Action
	for rows.Next() {
		var a models.Action
		var planItemID, input, output sql.NullString
		var created string
		if err := rows.Scan(&a.ID, &a.TaskID, &planItemID, &a.Kind, &a.Summary,
			&a.Status, &input, &output, &created); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		a.PlanItemID = planItemID.String
		a.Input = input.String
		a.Output = output.String
		a.CreatedAt = parseTS(created)
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if withLogs {
		for i := range actions {
			logs, err := s.listActionLogs(ctx, actions[i].ID)
			if err != nil {
				return nil, err
			}
			actions[i].Logs = logs
		}
	}
	return actions, nil
}

func (s *Store) listActionLogs(ctx context.Context, actionID string) ([]models.ActionLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action_id, log_type, content, created_at FROM action_logs
		 WHERE action_id = ? ORDER BY created_at`, actionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list action logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []models.ActionLog
	for rows.Next() {
		var l models.ActionLog
		var created string
		if err := rows.Scan(&l.ID, &l.ActionID, &l.Kind, &l.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan action log: %w", err)
		}
		l.CreatedAt = parseTS(created)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *Store) listMessages(ctx context.Context, taskID string, limit int) ([]models.TaskMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, role, msg_type, content, created_at FROM task_messages
		 WHERE task_id = ? ORDER BY created_at DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []models.TaskMessage
	for rows.Next() {
		var m models.TaskMessage
		var created string
		if err := rows.Scan(&m.ID, &m.TaskID, &m.Role, &m.Kind, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt = parseTS(created)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Newest-first query for the LIMIT; the thread reads oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func computeProgress(items []models.PlanItem) models.ResumeProgress {
	progress := models.ResumeProgress{Completed: []int{}, Remaining: []int{}}
	for _, item := range items {
		status, err := core.ParseItemStatus(item.Status)
		if err != nil {
			continue
		}
		switch {
		case status.IsTerminal():
			progress.Completed = append(progress.Completed, item.Ordinal)
		case status == core.ItemActive && progress.Current == nil:
			ord := item.Ordinal
			progress.Current = &ord
			progress.CurrentName = item.Title
		default:
			progress.Remaining = append(progress.Remaining, item.Ordinal)
		}
	}
	// A task with no explicitly active item is considered to be on its
	// first remaining step.
	if progress.Current == nil && len(progress.Remaining) > 0 {
		ord := progress.Remaining[0]
		progress.Current = &ord
		progress.Remaining = progress.Remaining[1:]
		for _, item := range items {
			if item.Ordinal == ord {
				progress.CurrentName = item.Title
				break
			}
		}
	}
	if len(items) > 0 {
		progress.Pct = float64(len(progress.Completed)) / float64(len(items)) * 100
	}
	return progress
}
