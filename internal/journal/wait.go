package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/vigil-run/vigil/internal/core"
	"github.com/vigil-run/vigil/internal/logger"
	"github.com/vigil-run/vigil/internal/logger/tag"
	"github.com/vigil-run/vigil/internal/models"
)

// CreateWait persists the durable row of a newly submitted wait job.
func (s *Store) CreateWait(ctx context.Context, row models.WaitRow) error {
	var taskID sql.NullString
	if row.TaskID != "" {
		taskID = sql.NullString{String: row.TaskID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wait_jobs (id, task_id, target_type, target_id, criteria, timeout_seconds, poll_interval, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, taskID, row.TargetKind, row.TargetID, row.Criteria,
		row.TimeoutSec, row.PollInterval, core.WaitWatching.String(), tsNow())
	if err != nil {
		return fmt.Errorf("failed to insert wait job: %w", err)
	}
	return nil
}

// UpdateWait persists rebound criteria and timeout on a live wait job.
func (s *Store) UpdateWait(ctx context.Context, waitID, criteria string, timeoutSec int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE wait_jobs SET criteria = ?, timeout_seconds = ? WHERE id = ? AND status = ?`,
		criteria, timeoutSec, waitID, core.WaitWatching.String())
	if err != nil {
		return fmt.Errorf("failed to update wait job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, waitID)
	}
	return nil
}

// FinishWait stamps a wait job's terminal status, result message, and
// resolution time. The terminal row is authoritative even if later wake
// emission fails.
func (s *Store) FinishWait(ctx context.Context, waitID string, status core.WaitStatus, result string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE wait_jobs SET status = ?, result_message = ?, resolved_at = ? WHERE id = ?`,
		status.String(), result, tsNow(), waitID)
	if err != nil {
		return fmt.Errorf("failed to finish wait job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, waitID)
	}
	return nil
}

// GetWait loads one wait-job row.
func (s *Store) GetWait(ctx context.Context, waitID string) (*models.WaitRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, target_type, target_id, criteria, timeout_seconds, poll_interval, status, result_message, created_at, resolved_at
		 FROM wait_jobs WHERE id = ?`, waitID)

	var w models.WaitRow
	var taskID, result, resolved sql.NullString
	var created string
	err := row.Scan(&w.ID, &taskID, &w.TargetKind, &w.TargetID, &w.Criteria,
		&w.TimeoutSec, &w.PollInterval, &w.Status, &result, &created, &resolved)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, waitID)
		}
		return nil, fmt.Errorf("failed to load wait job: %w", err)
	}
	w.TaskID = taskID.String
	w.Result = result.String
	w.CreatedAt = parseTS(created)
	if resolved.Valid {
		t := parseTS(resolved.String)
		w.ResolvedAt = &t
	}
	return &w, nil
}

// WatchingWaitIDs returns the ids of a task's wait jobs still in watching
// status. Used by the stuck detector to reconcile task metadata.
func (s *Store) WatchingWaitIDs(ctx context.Context, taskID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM wait_jobs WHERE task_id = ? AND status = ?`,
		taskID, core.WaitWatching.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query watching waits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	watching := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan wait id: %w", err)
		}
		watching[id] = true
	}
	return watching, rows.Err()
}

// OnWaitCreated links a new wait job to its task: appends the id to
// active_wait_ids, records a started wait action, and posts a wait message.
func (s *Store) OnWaitCreated(ctx context.Context, taskID, waitID, target, criteria string, refs *models.ScreenshotRefs, timeoutSec int) error {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	ids := task.Metadata.ActiveWaitIDs()
	if !slices.Contains(ids, waitID) {
		ids = append(ids, waitID)
	}
	task.Metadata.SetActiveWaitIDs(ids)
	if err := s.writeMeta(ctx, taskID, task.Metadata); err != nil {
		return err
	}

	input, err := json.Marshal(models.WaitActionInput{
		WaitID: waitID, Target: target, Criteria: criteria,
		Timeout: timeoutSec, Screenshot: refs,
	})
	if err != nil {
		return fmt.Errorf("failed to encode wait action input: %w", err)
	}
	itemID := s.currentItemID(ctx, taskID)
	if _, err := s.insertAction(ctx, taskID, itemID, models.ActionWait,
		"Waiting for: "+criteria, string(input), "", core.ActionStarted.String()); err != nil {
		return err
	}
	if err := s.insertMessage(ctx, taskID, "agent", models.MsgWait,
		fmt.Sprintf("Started wait %s on %s: %s", waitID, target, criteria)); err != nil {
		return err
	}
	return s.touchTask(ctx, taskID)
}

// OnWaitFinished closes the task-side record of a finished wait: drops the
// id from active_wait_ids, stamps last_wait_state/last_wait_event_at,
// completes or fails the wait action, and posts a wait message.
func (s *Store) OnWaitFinished(ctx context.Context, taskID, waitID string, state core.WaitStatus, detail string, refs *models.ScreenshotRefs, elapsedSec float64) error {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	ids := slices.DeleteFunc(task.Metadata.ActiveWaitIDs(), func(id string) bool {
		return id == waitID
	})
	task.Metadata.SetActiveWaitIDs(ids)
	task.Metadata[models.MetaLastWaitState] = state.String()
	task.Metadata.SetEpochTime(models.MetaLastWaitEventAt, time.Now())
	if err := s.writeMeta(ctx, taskID, task.Metadata); err != nil {
		return err
	}

	if actionID, err := s.findWaitAction(ctx, taskID, waitID); err == nil {
		output, merr := json.Marshal(models.WaitActionOutput{
			State: state.String(), Detail: detail,
			ElapsedSeconds: elapsedSec, Screenshot: refs,
		})
		if merr != nil {
			return fmt.Errorf("failed to encode wait action output: %w", merr)
		}
		actionStatus := core.ActionFailed
		if state == core.WaitResolved {
			actionStatus = core.ActionCompleted
		}
		if err := s.UpdateAction(ctx, actionID, actionStatus.String(), string(output)); err != nil {
			return err
		}
	} else {
		logger.Warn(ctx, "No wait action found for finished wait",
			tag.TaskID(taskID), tag.JobID(waitID))
	}

	if err := s.insertMessage(ctx, taskID, "agent", models.MsgWait,
		fmt.Sprintf("Wait %s finished (%s): %s", waitID, state, detail)); err != nil {
		return err
	}
	return s.touchTask(ctx, taskID)
}

// LogWaitNote attaches an agent note to the wait action's logs, e.g. the
// message carried by a wait update.
func (s *Store) LogWaitNote(ctx context.Context, taskID, waitID, note string) error {
	actionID, err := s.findWaitAction(ctx, taskID, waitID)
	if err != nil {
		return err
	}
	return s.AppendActionLog(ctx, actionID, "note", note)
}

// LogWaitVerdict appends one vision verdict to the wait action's logs.
func (s *Store) LogWaitVerdict(ctx context.Context, taskID, waitID, verdict string) error {
	actionID, err := s.findWaitAction(ctx, taskID, waitID)
	if err != nil {
		return err
	}
	return s.AppendActionLog(ctx, actionID, "verdict", verdict)
}

// findWaitAction locates the wait action whose input payload names waitID.
func (s *Store) findWaitAction(ctx context.Context, taskID, waitID string) (string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, input_data FROM actions WHERE task_id = ? AND action_type = ? ORDER BY created_at DESC`,
		taskID, models.ActionWait)
	if err != nil {
		return "", fmt.Errorf("failed to query wait actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		var input sql.NullString
		if err := rows.Scan(&id, &input); err != nil {
			return "", fmt.Errorf("failed to scan wait action: %w", err)
		}
		var in models.WaitActionInput
		if json.Unmarshal([]byte(input.String), &in) == nil && in.WaitID == waitID {
			return id, nil
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no wait action for wait %s in task %s", waitID, taskID)
}

func (s *Store) writeMeta(ctx context.Context, taskID string, meta models.TaskMeta) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET metadata = ? WHERE id = ?`, meta.Encode(), taskID); err != nil {
		return fmt.Errorf("failed to write task metadata: %w", err)
	}
	return nil
}
