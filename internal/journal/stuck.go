package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vigil-run/vigil/internal/logger"
	"github.com/vigil-run/vigil/internal/logger/tag"
	"github.com/vigil-run/vigil/internal/models"
	"github.com/vigil-run/vigil/internal/stringutil"
	"github.com/vigil-run/vigil/internal/wake"
)

// StuckDetector scans active tasks for silence: no journal updates and no
// live wait jobs for longer than the threshold. Each stuck task gets one
// resume packet emitted through the wake sink, rate-limited by a per-task
// cooldown.
type StuckDetector struct {
	store     *Store
	sink      wake.Sink
	interval  time.Duration
	threshold time.Duration
	cooldown  time.Duration

	now func() time.Time
}

// NewStuckDetector creates a detector over the given store and sink.
func NewStuckDetector(store *Store, sink wake.Sink, interval, threshold, cooldown time.Duration) *StuckDetector {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &StuckDetector{
		store:     store,
		sink:      sink,
		interval:  interval,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Start begins the detection loop and blocks until ctx is done.
func (d *StuckDetector) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	running := atomic.Bool{}

	for {
		select {
		case <-ticker.C:
			if !running.CompareAndSwap(false, true) {
				logger.Warn(ctx, "Skipping stuck detection, previous sweep still running")
				continue
			}

			go func() {
				defer running.Store(false)
				defer func() {
					if r := recover(); r != nil {
						logger.Error(ctx, "Stuck detection sweep panicked", "panic", r)
					}
				}()
				d.Sweep(ctx)
			}()

		case <-ctx.Done():
			logger.Info(ctx, "Stopping stuck detector")
			return
		}
	}
}

// Sweep inspects every active task once and emits a resume packet for each
// stuck one.
func (d *StuckDetector) Sweep(ctx context.Context) {
	tasks, err := d.store.ActiveTasks(ctx)
	if err != nil {
		logger.Error(ctx, "Failed to list active tasks", tag.Error(err))
		return
	}
	logger.Debug(ctx, "Checking for stuck tasks", tag.Count(len(tasks)))

	for i := range tasks {
		packet, err := d.checkTask(ctx, &tasks[i])
		if err != nil {
			logger.Error(ctx, "Failed to check task for stuckness",
				tag.TaskID(tasks[i].ID), tag.Error(err))
			continue
		}
		if packet == nil {
			continue
		}
		encoded, err := json.Marshal(packet)
		if err != nil {
			logger.Error(ctx, "Failed to encode resume packet",
				tag.TaskID(tasks[i].ID), tag.Error(err))
			continue
		}
		if err := d.sink.Emit(ctx, "[task_stuck_resume] "+string(encoded)); err != nil {
			logger.Warn(ctx, "Failed to emit stuck wake event",
				tag.TaskID(tasks[i].ID), tag.Error(err))
		}
	}
}

// checkTask returns a resume packet when the task is stuck, nil otherwise.
func (d *StuckDetector) checkTask(ctx context.Context, task *models.Task) (*models.ResumePacket, error) {
	now := d.now()

	// Drop wait ids whose jobs are no longer watching; stale entries would
	// keep a dead task looking busy forever.
	watching, err := d.store.WatchingWaitIDs(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	ids := task.Metadata.ActiveWaitIDs()
	live := make([]string, 0, len(ids))
	for _, id := range ids {
		if watching[id] {
			live = append(live, id)
		}
	}
	if len(live) != len(ids) {
		task.Metadata.SetActiveWaitIDs(live)
		if err := d.store.writeMeta(ctx, task.ID, task.Metadata); err != nil {
			return nil, err
		}
	}

	if len(live) > 0 {
		return nil, nil
	}
	idle := now.Sub(task.UpdatedAt)
	if idle < d.threshold {
		return nil, nil
	}
	if lastAlert := task.Metadata.EpochTime(models.MetaLastStuckAlertAt); !lastAlert.IsZero() {
		if now.Sub(lastAlert) < d.cooldown {
			return nil, nil
		}
	}

	packet, err := d.store.BuildResumePacket(ctx, task.ID,
		fmt.Sprintf("no updates for %s and no active smart wait", stringutil.FormatDuration(idle)))
	if err != nil {
		return nil, err
	}

	task.Metadata.SetEpochTime(models.MetaLastStuckAlertAt, now)
	if err := d.store.writeMeta(ctx, task.ID, task.Metadata); err != nil {
		return nil, err
	}
	if err := d.store.insertMessage(ctx, task.ID, "agent", models.MsgStuck, packet.Reason); err != nil {
		return nil, err
	}

	logger.Info(ctx, "Task looks stuck, emitting resume packet",
		tag.TaskID(task.ID), "idle", stringutil.FormatDuration(idle))
	return packet, nil
}

// BuildResumePacket assembles the structured snapshot a stuck wake event
// carries: progress, expanded current-item actions, the recent thread, and
// wait state.
func (s *Store) BuildResumePacket(ctx context.Context, taskID, reason string) (*models.ResumePacket, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	items, err := s.listPlanItems(ctx, taskID)
	if err != nil {
		return nil, err
	}
	progress := computeProgress(items)

	var actions []models.Action
	if progress.Current != nil {
		if item, err := s.getPlanItem(ctx, taskID, *progress.Current); err == nil {
			actions, err = s.listActions(ctx, taskID, &item.ID, true)
			if err != nil {
				return nil, err
			}
		}
	}
	messages, err := s.listMessages(ctx, taskID, 5)
	if err != nil {
		return nil, err
	}

	waitState := models.ResumeWait{ActiveWaitIDs: task.Metadata.ActiveWaitIDs()}
	if state, ok := task.Metadata[models.MetaLastWaitState].(string); ok {
		waitState.LastWaitState = state
	}
	if at := task.Metadata.EpochTime(models.MetaLastWaitEventAt); !at.IsZero() {
		epoch := float64(at.UnixNano()) / 1e9
		waitState.LastWaitEventAt = &epoch
	}

	return &models.ResumePacket{
		TaskID:         task.ID,
		Name:           task.Name,
		Status:         task.Status,
		Progress:       progress,
		Items:          items,
		CurrentActions: actions,
		RecentMessages: messages,
		Wait:           waitState,
		Reason:         reason,
	}, nil
}
