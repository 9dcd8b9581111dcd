package journal

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-run/vigil/internal/models"
	"github.com/vigil-run/vigil/internal/wake"
)

func newDetector(store *Store, sink wake.Sink) *StuckDetector {
	return NewStuckDetector(store, sink, time.Minute, 300*time.Second, 300*time.Second)
}

func backdateTask(t *testing.T, store *Store, taskID string, age time.Duration) {
	t.Helper()
	stamp := time.Now().Add(-age).UTC().Format(tsFormat)
	_, err := store.db.Exec(`UPDATE tasks SET updated_at = ? WHERE id = ?`, stamp, taskID)
	require.NoError(t, err)
}

func TestSweepFreshTaskIsQuiet(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	sink := &wake.MemorySink{}
	_, err := store.RegisterTask(context.Background(), "t", []string{"a"}, nil)
	require.NoError(t, err)

	newDetector(store, sink).Sweep(context.Background())
	assert.Empty(t, sink.Messages())
}

func TestSweepEmitsResumePacket(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	sink := &wake.MemorySink{}
	ctx := context.Background()
	task, err := store.RegisterTask(ctx, "install app", []string{"download", "verify"}, nil)
	require.NoError(t, err)
	backdateTask(t, store, task.ID, 10*time.Minute)

	newDetector(store, sink).Sweep(ctx)

	messages := sink.Messages()
	require.Len(t, messages, 1)
	require.True(t, strings.HasPrefix(messages[0], "[task_stuck_resume] "))

	var packet models.ResumePacket
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(messages[0], "[task_stuck_resume] ")), &packet))
	assert.Equal(t, task.ID, packet.TaskID)
	assert.Equal(t, "install app", packet.Name)
	require.NotNil(t, packet.Progress.Current)
	assert.Equal(t, 0, *packet.Progress.Current)
	assert.Equal(t, []int{1}, packet.Progress.Remaining)
	assert.Contains(t, packet.Reason, "no updates")
	assert.NotEmpty(t, packet.RecentMessages)

	// The alert stamps metadata and appends a stuck message.
	loaded, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, loaded.Metadata.EpochTime(models.MetaLastStuckAlertAt).IsZero())
}

func TestSweepHonorsCooldown(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	sink := &wake.MemorySink{}
	ctx := context.Background()
	task, err := store.RegisterTask(ctx, "t", []string{"a"}, nil)
	require.NoError(t, err)
	backdateTask(t, store, task.ID, 10*time.Minute)

	detector := newDetector(store, sink)
	detector.Sweep(ctx)
	require.Len(t, sink.Messages(), 1)

	// The sweep itself posted a stuck message, which touches nothing in
	// updated_at terms here; backdate again to isolate the cooldown.
	backdateTask(t, store, task.ID, 10*time.Minute)
	detector.Sweep(ctx)
	assert.Len(t, sink.Messages(), 1)
}

func TestSweepSkipsTasksWithActiveWaits(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	sink := &wake.MemorySink{}
	ctx := context.Background()
	task, err := store.RegisterTask(ctx, "t", nil, nil)
	require.NoError(t, err)
	createWait(t, store, "w1", task.ID)
	require.NoError(t, store.OnWaitCreated(ctx, task.ID, "w1", "screen:full", "c", nil, 600))
	backdateTask(t, store, task.ID, 10*time.Minute)

	newDetector(store, sink).Sweep(ctx)
	assert.Empty(t, sink.Messages())
}

func TestSweepReconcilesStaleWaitIDs(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	sink := &wake.MemorySink{}
	ctx := context.Background()
	task, err := store.RegisterTask(ctx, "t", nil, nil)
	require.NoError(t, err)

	// Metadata claims an active wait, but no watching row backs it up.
	loaded, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	loaded.Metadata.SetActiveWaitIDs([]string{"stale"})
	require.NoError(t, store.writeMeta(ctx, task.ID, loaded.Metadata))
	backdateTask(t, store, task.ID, 10*time.Minute)

	newDetector(store, sink).Sweep(ctx)
	assert.Len(t, sink.Messages(), 1)

	loaded, err = store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.Metadata.ActiveWaitIDs())
}

func TestSweepIgnoresNonActiveTasks(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	sink := &wake.MemorySink{}
	ctx := context.Background()
	task, err := store.RegisterTask(ctx, "t", nil, nil)
	require.NoError(t, err)
	_, err = store.UpdateTask(ctx, task.ID, UpdateTaskRequest{Status: "paused"})
	require.NoError(t, err)
	backdateTask(t, store, task.ID, 10*time.Minute)

	newDetector(store, sink).Sweep(ctx)
	assert.Empty(t, sink.Messages())
}
