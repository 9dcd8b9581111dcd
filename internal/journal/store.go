// Package journal persists the hierarchical task record: tasks, plan items,
// actions, action logs, messages, and the durable rows of wait jobs. It is
// the single owner of the SQLite database; the scheduler and the HTTP
// surface go through the Store.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vigil-run/vigil/internal/core"
	"github.com/vigil-run/vigil/internal/display"
	"github.com/vigil-run/vigil/internal/logger"
	"github.com/vigil-run/vigil/internal/logger/tag"
	"github.com/vigil-run/vigil/internal/models"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrItemNotFound = errors.New("plan item not found")
	ErrJobNotFound  = errors.New("wait job not found")
)

// DisplayAllocator is the slice of the display manager the journal needs
// when registering and closing tasks.
type DisplayAllocator interface {
	Allocate(ctx context.Context, taskID string, width, height int) (*display.Info, error)
	Release(ctx context.Context, taskID string)
}

// Store wraps the journal database.
type Store struct {
	db             *sql.DB
	displays       DisplayAllocator
	defaultDisplay string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithDisplays wires a display allocator; tasks then get a virtual display
// on registration and release it on terminal transitions.
func WithDisplays(d DisplayAllocator) StoreOption {
	return func(s *Store) { s.displays = d }
}

// WithDefaultDisplay sets the display string recorded when allocation is
// unavailable or fails.
func WithDefaultDisplay(displayStr string) StoreOption {
	return func(s *Store) { s.defaultDisplay = displayStr }
}

// Open opens (creating if needed) the journal database at path and applies
// the schema.
func Open(path string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	// One writer connection keeps SQLITE_BUSY out of concurrent evaluations.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply journal schema: %w", err)
	}

	s := &Store{db: db, defaultDisplay: ":0"}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func newID() string {
	return uuid.New().String()[:8]
}

// tsFormat is fixed width so lexicographic ordering on the column matches
// chronological ordering.
const tsFormat = "2006-01-02T15:04:05.000000000Z07:00"

func tsNow() string {
	return time.Now().UTC().Format(tsFormat)
}

func parseTS(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RegisterTask creates a task in active status with one pending plan item
// per plan entry. When a display allocator is wired, a virtual display is
// allocated and recorded in the task metadata; allocation failure falls back
// to the default display and is not fatal.
func (s *Store) RegisterTask(ctx context.Context, name string, plan []string, meta models.TaskMeta) (*models.Task, error) {
	if meta == nil {
		meta = models.TaskMeta{}
	}
	taskID := newID()

	allocated := false
	if s.displays != nil {
		width, height := parseResolution(meta[models.MetaDisplayResolution])
		info, err := s.displays.Allocate(ctx, taskID, width, height)
		if err != nil {
			logger.Warn(ctx, "Display allocation failed, using default display",
				tag.TaskID(taskID), tag.Error(err))
			meta[models.MetaDisplay] = s.defaultDisplay
		} else {
			allocated = true
			meta[models.MetaDisplay] = info.DisplayStr
			meta[models.MetaDisplayNum] = info.Num
			meta[models.MetaDisplayResolution] = fmt.Sprintf("%dx%d", info.Width, info.Height)
		}
	} else if meta.Display() == "" {
		meta[models.MetaDisplay] = s.defaultDisplay
	}

	// The allocated Xvfb must not outlive a task row that never landed.
	committed := false
	defer func() {
		if allocated && !committed {
			s.displays.Release(ctx, taskID)
		}
	}()

	now := tsNow()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tasks (id, name, status, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		taskID, name, core.TaskActive.String(), meta.Encode(), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}
	for i, title := range plan {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO plan_items (id, task_id, ordinal, title, status) VALUES (?, ?, ?, ?, ?)`,
			newID(), taskID, i, title, core.ItemPending.String())
		if err != nil {
			return nil, fmt.Errorf("failed to insert plan item: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO task_messages (id, task_id, role, msg_type, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		newID(), taskID, "agent", models.MsgLifecycle,
		fmt.Sprintf("Task registered with %d plan items", len(plan)), now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	committed = true

	logger.Info(ctx, "Task registered", tag.TaskID(taskID), "name", name, tag.Count(len(plan)))
	return s.GetTask(ctx, taskID)
}

func parseResolution(v any) (int, int) {
	s, ok := v.(string)
	if !ok {
		return 0, 0
	}
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return w, h
}

// GetTask loads one task row.
func (s *Store) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, metadata, created_at, updated_at FROM tasks WHERE id = ?`, taskID)
	var t models.Task
	var meta, created, updated string
	if err := row.Scan(&t.ID, &t.Name, &t.Status, &meta, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	t.Metadata = models.ParseTaskMeta(meta)
	t.CreatedAt = parseTS(created)
	t.UpdatedAt = parseTS(updated)
	return &t, nil
}

// UpdateTaskRequest carries the optional fields of a task update.
type UpdateTaskRequest struct {
	Message string
	Status  string
}

// UpdateTask applies a status transition and/or appends a progress note.
// Terminal transitions release the task's display. Notes are recorded as a
// reasoning action under the current plan item and echoed into the thread.
func (s *Store) UpdateTask(ctx context.Context, taskID string, req UpdateTaskRequest) (*models.Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if req.Status != "" {
		status, err := core.ParseTaskStatus(req.Status)
		if err != nil {
			return nil, err
		}
		_, err = s.db.ExecContext(ctx,
			`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
			status.String(), tsNow(), taskID)
		if err != nil {
			return nil, fmt.Errorf("failed to update task status: %w", err)
		}
		if err := s.insertMessage(ctx, taskID, "agent", models.MsgLifecycle,
			fmt.Sprintf("Task status: %s → %s", task.Status, status)); err != nil {
			return nil, err
		}
		if status.IsTerminal() && s.displays != nil {
			s.displays.Release(ctx, taskID)
		}
		logger.Info(ctx, "Task status updated", tag.TaskID(taskID), tag.Status(status.String()))
	}

	if req.Message != "" {
		itemID := s.currentItemID(ctx, taskID)
		if _, err := s.insertAction(ctx, taskID, itemID, models.ActionReasoning,
			req.Message, "", "", core.ActionCompleted.String()); err != nil {
			return nil, err
		}
		if err := s.insertMessage(ctx, taskID, "agent", models.MsgText, req.Message); err != nil {
			return nil, err
		}
		if err := s.touchTask(ctx, taskID); err != nil {
			return nil, err
		}
	}

	return s.GetTask(ctx, taskID)
}

// UpdatePlanItem transitions one plan item. Activation stamps started_at;
// terminal transitions stamp completed_at and compute the duration. A note,
// if given, becomes a reasoning action on the item.
func (s *Store) UpdatePlanItem(ctx context.Context, taskID string, ordinal int, statusStr, note string) (*models.PlanItem, error) {
	status, err := core.ParseItemStatus(statusStr)
	if err != nil {
		return nil, err
	}
	item, err := s.getPlanItem(ctx, taskID, ordinal)
	if err != nil {
		return nil, err
	}

	now := tsNow()
	switch {
	case status == core.ItemActive && item.StartedAt == nil:
		_, err = s.db.ExecContext(ctx,
			`UPDATE plan_items SET status = ?, started_at = ? WHERE id = ?`,
			status.String(), now, item.ID)
	case status.IsTerminal():
		var duration *float64
		if item.StartedAt != nil {
			d := time.Since(*item.StartedAt).Seconds()
			duration = &d
		}
		_, err = s.db.ExecContext(ctx,
			`UPDATE plan_items SET status = ?, completed_at = ?, duration_seconds = ? WHERE id = ?`,
			status.String(), now, duration, item.ID)
	default:
		_, err = s.db.ExecContext(ctx,
			`UPDATE plan_items SET status = ? WHERE id = ?`, status.String(), item.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update plan item: %w", err)
	}

	if err := s.insertMessage(ctx, taskID, "agent", models.MsgProgress,
		fmt.Sprintf("Step %d %q → %s", ordinal, item.Title, status)); err != nil {
		return nil, err
	}
	if note != "" {
		itemID := sql.NullString{String: item.ID, Valid: true}
		if _, err := s.insertAction(ctx, taskID, itemID, models.ActionReasoning,
			note, "", "", core.ActionCompleted.String()); err != nil {
			return nil, err
		}
	}
	if err := s.touchTask(ctx, taskID); err != nil {
		return nil, err
	}

	logger.Info(ctx, "Plan item updated", tag.TaskID(taskID), tag.Ordinal(ordinal),
		tag.Status(status.String()))
	return s.getPlanItem(ctx, taskID, ordinal)
}

// LogAction appends an action under the given ordinal's plan item, or the
// currently active (else first pending) item when no ordinal is given.
func (s *Store) LogAction(ctx context.Context, taskID, kind, summary, input, output, statusStr string, ordinal *int) (*models.Action, error) {
	if err := models.ValidateActionKind(kind); err != nil {
		return nil, err
	}
	if err := models.ValidateActionPayload(kind, input); err != nil {
		return nil, err
	}
	if err := models.ValidateActionPayload(kind, output); err != nil {
		return nil, err
	}
	if statusStr == "" {
		statusStr = core.ActionCompleted.String()
	}
	status, err := core.ParseActionStatus(statusStr)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}

	var itemID sql.NullString
	if ordinal != nil {
		item, err := s.getPlanItem(ctx, taskID, *ordinal)
		if err != nil {
			return nil, err
		}
		itemID = sql.NullString{String: item.ID, Valid: true}
	} else {
		itemID = s.currentItemID(ctx, taskID)
	}

	action, err := s.insertAction(ctx, taskID, itemID, kind, summary, input, output, status.String())
	if err != nil {
		return nil, err
	}
	if err := s.touchTask(ctx, taskID); err != nil {
		return nil, err
	}
	return action, nil
}

// UpdateAction rewrites an action's status and output.
func (s *Store) UpdateAction(ctx context.Context, actionID, statusStr, output string) error {
	status, err := core.ParseActionStatus(statusStr)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE actions SET status = ?, output_data = ? WHERE id = ?`,
		status.String(), output, actionID)
	if err != nil {
		return fmt.Errorf("failed to update action: %w", err)
	}
	return nil
}

// AppendActionLog attaches a free-form note to an action.
func (s *Store) AppendActionLog(ctx context.Context, actionID, logType, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_logs (id, action_id, log_type, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		newID(), actionID, logType, content, tsNow())
	if err != nil {
		return fmt.Errorf("failed to append action log: %w", err)
	}
	return nil
}

// PostMessage appends a typed message to the task thread.
func (s *Store) PostMessage(ctx context.Context, taskID, role, msgType, content string) (*models.TaskMessage, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	if msgType == "" {
		msgType = models.MsgText
	}
	if role == "" {
		role = "agent"
	}
	if err := s.insertMessage(ctx, taskID, role, msgType, content); err != nil {
		return nil, err
	}
	if err := s.touchTask(ctx, taskID); err != nil {
		return nil, err
	}
	return &models.TaskMessage{TaskID: taskID, Role: role, Kind: msgType, Content: content, CreatedAt: time.Now()}, nil
}

func (s *Store) insertMessage(ctx context.Context, taskID, role, msgType, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_messages (id, task_id, role, msg_type, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		newID(), taskID, role, msgType, content, tsNow())
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *Store) insertAction(ctx context.Context, taskID string, itemID sql.NullString, kind, summary, input, output, status string) (*models.Action, error) {
	id := newID()
	now := tsNow()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO actions (id, task_id, plan_item_id, action_type, summary, status, input_data, output_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, taskID, itemID, kind, summary, status, input, output, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert action: %w", err)
	}
	return &models.Action{
		ID: id, TaskID: taskID, PlanItemID: itemID.String, Kind: kind,
		Summary: summary, Status: status, Input: input, Output: output,
		CreatedAt: parseTS(now),
	}, nil
}

func (s *Store) touchTask(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET updated_at = ? WHERE id = ?`, tsNow(), taskID); err != nil {
		return fmt.Errorf("failed to touch task: %w", err)
	}
	return nil
}

// currentItemID returns the active plan item, else the first pending one,
// else an invalid NullString.
func (s *Store) currentItemID(ctx context.Context, taskID string) sql.NullString {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM plan_items WHERE task_id = ? AND status = 'active' ORDER BY ordinal LIMIT 1`,
		taskID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.db.QueryRowContext(ctx,
			`SELECT id FROM plan_items WHERE task_id = ? AND status = 'pending' ORDER BY ordinal LIMIT 1`,
			taskID).Scan(&id)
	}
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id, Valid: true}
}

func (s *Store) getPlanItem(ctx context.Context, taskID string, ordinal int) (*models.PlanItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, ordinal, title, status, started_at, completed_at, duration_seconds
		 FROM plan_items WHERE task_id = ? AND ordinal = ?`, taskID, ordinal)
	item, err := scanPlanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: task %s ordinal %d", ErrItemNotFound, taskID, ordinal)
		}
		return nil, fmt.Errorf("failed to load plan item: %w", err)
	}
	return item, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlanItem(row rowScanner) (*models.PlanItem, error) {
	var item models.PlanItem
	var started, completed sql.NullString
	var duration sql.NullFloat64
	if err := row.Scan(&item.ID, &item.TaskID, &item.Ordinal, &item.Title, &item.Status,
		&started, &completed, &duration); err != nil {
		return nil, err
	}
	if started.Valid {
		t := parseTS(started.String)
		item.StartedAt = &t
	}
	if completed.Valid {
		t := parseTS(completed.String)
		item.CompletedAt = &t
	}
	if duration.Valid {
		item.DurationSec = &duration.Float64
	}
	return &item, nil
}
