package waitengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-run/vigil/internal/capture"
	"github.com/vigil-run/vigil/internal/config"
	"github.com/vigil-run/vigil/internal/core"
	"github.com/vigil-run/vigil/internal/models"
	"github.com/vigil-run/vigil/internal/screenshot"
	"github.com/vigil-run/vigil/internal/vision"
	"github.com/vigil-run/vigil/internal/wake"
)

type fakeLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *fakeLocks) CaptureMutex(display string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	if _, ok := l.locks[display]; !ok {
		l.locks[display] = &sync.Mutex{}
	}
	return l.locks[display]
}

// fakeSource serves solid frames whose pixel value advances on every call,
// so the diff gate sees change each tick. Freeze pins the value.
type fakeSource struct {
	mu       sync.Mutex
	value    uint8
	frozen   bool
	captures int
}

func (s *fakeSource) frame() capture.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures++
	if !s.frozen {
		s.value += 16
	}
	rgb := make([]byte, 8*8*3)
	for i := range rgb {
		rgb[i] = s.value
	}
	return capture.Frame{RGB: rgb, Width: 8, Height: 8}
}

func (s *fakeSource) freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

func (s *fakeSource) captureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures
}

func (s *fakeSource) CaptureScreen(_ context.Context, _ string) (capture.Frame, error) {
	return s.frame(), nil
}

func (s *fakeSource) CaptureWindow(_ context.Context, _ string, _ uint32) (capture.Frame, error) {
	return s.frame(), nil
}

// fakeBackend replays a script of replies; the last entry repeats forever.
type fakeBackend struct {
	mu     sync.Mutex
	script []string
	calls  int
}

func (b *fakeBackend) Name() string { return "scripted" }

func (b *fakeBackend) Health(_ context.Context) error { return nil }

func (b *fakeBackend) Evaluate(_ context.Context, _ *vision.Request) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.calls
	b.calls++
	if idx >= len(b.script) {
		idx = len(b.script) - 1
	}
	return b.script[idx], nil
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type fakeResolver struct {
	mu       sync.Mutex
	failures int
	windowID uint32
	calls    int
}

func (r *fakeResolver) Resolve(_ context.Context, _ string, _ string) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failures > 0 {
		r.failures--
		return 0, fmt.Errorf("no matching window")
	}
	return r.windowID, nil
}

type finishCall struct {
	WaitID string
	Status core.WaitStatus
	Result string
}

type fakeJournal struct {
	mu        sync.Mutex
	created   []models.WaitRow
	updated   []string
	finished  []finishCall
	onCreated []string
	onDone    []finishCall
	verdicts  []string
	notes     []string
}

func (j *fakeJournal) CreateWait(_ context.Context, row models.WaitRow) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.created = append(j.created, row)
	return nil
}

func (j *fakeJournal) UpdateWait(_ context.Context, waitID, criteria string, _ int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.updated = append(j.updated, waitID+":"+criteria)
	return nil
}

func (j *fakeJournal) FinishWait(_ context.Context, waitID string, status core.WaitStatus, result string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finished = append(j.finished, finishCall{WaitID: waitID, Status: status, Result: result})
	return nil
}

func (j *fakeJournal) OnWaitCreated(_ context.Context, taskID, waitID, _, _ string, _ *models.ScreenshotRefs, _ int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.onCreated = append(j.onCreated, taskID+":"+waitID)
	return nil
}

func (j *fakeJournal) OnWaitFinished(_ context.Context, _, waitID string, state core.WaitStatus, detail string, _ *models.ScreenshotRefs, _ float64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.onDone = append(j.onDone, finishCall{WaitID: waitID, Status: state, Result: detail})
	return nil
}

func (j *fakeJournal) LogWaitVerdict(_ context.Context, _, _, verdict string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.verdicts = append(j.verdicts, verdict)
	return nil
}

func (j *fakeJournal) LogWaitNote(_ context.Context, taskID, waitID, note string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.notes = append(j.notes, taskID+":"+waitID+":"+note)
	return nil
}

func (j *fakeJournal) noteCalls() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.notes...)
}

func (j *fakeJournal) finishedCalls() []finishCall {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]finishCall(nil), j.finished...)
}

func (j *fakeJournal) updatedCalls() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.updated...)
}

func (j *fakeJournal) onCreatedCalls() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.onCreated...)
}

func testWaitConfig() config.WaitConfig {
	return config.WaitConfig{
		DefaultTimeout:       5 * time.Second,
		DefaultPollInterval:  10 * time.Millisecond,
		MinPollInterval:      5 * time.Millisecond,
		MaxPollInterval:      50 * time.Millisecond,
		AdaptivePolling:      true,
		PixelDiffThreshold:   0.01,
		MaxStatic:            time.Minute,
		PartialStreakResolve: 2,
		ResolveConfidence:    0.75,
		FrameMaxDim:          64,
		FrameJPEGQuality:     70,
		ThumbMaxDim:          32,
		ThumbJPEGQuality:     40,
		MaxContextFrames:     4,
		MaxContextVerdicts:   3,
	}
}

type engineHarness struct {
	engine  *Engine
	source  *fakeSource
	backend *fakeBackend
	journal *fakeJournal
	sink    *wake.MemorySink
	shots   *screenshot.Store
	shotDir string
}

func newEngineHarness(t *testing.T, cfg config.WaitConfig, backend *fakeBackend, resolver *fakeResolver) *engineHarness {
	t.Helper()

	dir := t.TempDir()
	shots, err := screenshot.New(dir)
	require.NoError(t, err)

	h := &engineHarness{
		source:  &fakeSource{},
		backend: backend,
		journal: &fakeJournal{},
		sink:    &wake.MemorySink{},
		shots:   shots,
		shotDir: dir,
	}
	if resolver == nil {
		resolver = &fakeResolver{windowID: 1}
	}
	h.engine = New(cfg, Deps{
		Locks:    &fakeLocks{},
		Source:   h.source,
		Resolver: resolver,
		Backend:  backend,
		Journal:  h.journal,
		Shots:    shots,
		Sink:     h.sink,
		System:   "You judge screenshots.",
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.engine.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

const resolvedReply = `FINAL_JSON: {"decision": "resolved", "confidence": 0.9, "evidence": ["done banner"], "summary": "condition met"}`
const watchingReply = `FINAL_JSON: {"decision": "watching", "confidence": 0.2, "evidence": [], "summary": "still waiting"}`
const partialReply = `FINAL_JSON: {"decision": "partial", "confidence": 0.6, "evidence": ["bar moved"], "summary": "in progress"}`

func TestEngineResolvesWhenConditionMet(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{script: []string{watchingReply, resolvedReply}}
	h := newEngineHarness(t, testWaitConfig(), backend, nil)

	job, err := h.engine.Submit(context.Background(), SubmitRequest{
		Target:   "screen:full",
		Criteria: "download finished",
		Display:  ":0",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.sink.Messages()) == 1
	}, 3*time.Second, 5*time.Millisecond)

	msg := h.sink.Messages()[0]
	assert.True(t, strings.HasPrefix(msg,
		fmt.Sprintf("[smart_wait resolved] Job %s: download finished → ", job.ID)), msg)
	assert.Contains(t, msg, "condition met")

	finished := h.journal.finishedCalls()
	require.Len(t, finished, 1)
	assert.Equal(t, core.WaitResolved, finished[0].Status)

	_, ok := h.engine.JobStatusByID(job.ID)
	assert.False(t, ok)

	_, err = os.Stat(filepath.Join(h.shotDir, job.ID+"_after.jpg"))
	assert.NoError(t, err)
}

func TestEngineTimeout(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{script: []string{watchingReply}}
	h := newEngineHarness(t, testWaitConfig(), backend, nil)

	job, err := h.engine.Submit(context.Background(), SubmitRequest{
		Target:   "screen:full",
		Criteria: "install completes",
		Timeout:  time.Second,
		Display:  ":0",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.sink.Messages()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	msg := h.sink.Messages()[0]
	assert.True(t, strings.HasPrefix(msg,
		fmt.Sprintf("[smart_wait timeout] Job %s: install completes — ", job.ID)), msg)
	assert.Contains(t, msg, "Timeout after 1s.")
	assert.Contains(t, msg, "Last observation:")

	finished := h.journal.finishedCalls()
	require.Len(t, finished, 1)
	assert.Equal(t, core.WaitTimeout, finished[0].Status)
}

func TestEnginePartialStreakPromotes(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{script: []string{partialReply}}
	h := newEngineHarness(t, testWaitConfig(), backend, nil)

	_, err := h.engine.Submit(context.Background(), SubmitRequest{
		Target:   "screen:full",
		Criteria: "page renders",
		Display:  ":0",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.sink.Messages()) == 1
	}, 3*time.Second, 5*time.Millisecond)

	msg := h.sink.Messages()[0]
	assert.Contains(t, msg, "[smart_wait resolved]")
	assert.Contains(t, msg, "[promoted from 2x PARTIAL]")

	finished := h.journal.finishedCalls()
	require.Len(t, finished, 1)
	assert.Equal(t, core.WaitResolved, finished[0].Status)
	assert.GreaterOrEqual(t, backend.callCount(), 2)
}

func TestEngineCancelEmitsNoWakeEvent(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{script: []string{watchingReply}}
	h := newEngineHarness(t, testWaitConfig(), backend, nil)

	job, err := h.engine.Submit(context.Background(), SubmitRequest{
		Target:   "screen:full",
		Criteria: "never happens",
		Display:  ":0",
	})
	require.NoError(t, err)

	found, err := h.engine.Cancel(context.Background(), job.ID, "superseded")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = h.engine.Cancel(context.Background(), job.ID, "again")
	require.NoError(t, err)
	assert.False(t, found)

	finished := h.journal.finishedCalls()
	require.Len(t, finished, 1)
	assert.Equal(t, core.WaitCancelled, finished[0].Status)
	assert.Equal(t, "superseded", finished[0].Result)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.sink.Messages())
}

func TestEngineUpdateRebindsJob(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{script: []string{watchingReply}}
	h := newEngineHarness(t, testWaitConfig(), backend, nil)

	job, err := h.engine.Submit(context.Background(), SubmitRequest{
		Target:   "screen:full",
		Criteria: "old condition",
		Display:  ":0",
	})
	require.NoError(t, err)

	err = h.engine.Update(context.Background(), UpdateRequest{
		WaitID:   job.ID,
		Criteria: "new condition",
		Timeout:  2 * time.Minute,
	})
	require.NoError(t, err)

	st, ok := h.engine.JobStatusByID(job.ID)
	require.True(t, ok)
	assert.Equal(t, "new condition", st.Criteria)

	updated := h.journal.updatedCalls()
	require.Len(t, updated, 1)
	assert.Equal(t, job.ID+":new condition", updated[0])

	err = h.engine.Update(context.Background(), UpdateRequest{WaitID: "ghost"})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestEngineUpdateRecordsNoteOnTask(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{script: []string{watchingReply}}
	h := newEngineHarness(t, testWaitConfig(), backend, nil)

	job, err := h.engine.Submit(context.Background(), SubmitRequest{
		Target:   "screen:full",
		Criteria: "build finishes",
		TaskID:   "task1",
		Display:  ":0",
	})
	require.NoError(t, err)

	err = h.engine.Update(context.Background(), UpdateRequest{
		WaitID:  job.ID,
		Message: "woken too early, still compiling",
	})
	require.NoError(t, err)

	notes := h.journal.noteCalls()
	require.Len(t, notes, 1)
	assert.Equal(t, "task1:"+job.ID+":woken too early, still compiling", notes[0])

	// Criteria untouched by a message-only update.
	st, ok := h.engine.JobStatusByID(job.ID)
	require.True(t, ok)
	assert.Equal(t, "build finishes", st.Criteria)

	_, err = h.engine.Cancel(context.Background(), job.ID, "")
	require.NoError(t, err)
}

func TestEngineWindowTargetResolvesLazily(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{script: []string{resolvedReply}}
	resolver := &fakeResolver{failures: 2, windowID: 42}
	h := newEngineHarness(t, testWaitConfig(), backend, resolver)

	_, err := h.engine.Submit(context.Background(), SubmitRequest{
		Target:   "window:Firefox",
		Criteria: "page loaded",
		Display:  ":0",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.sink.Messages()) == 1
	}, 3*time.Second, 5*time.Millisecond)

	resolver.mu.Lock()
	calls := resolver.calls
	resolver.mu.Unlock()
	assert.GreaterOrEqual(t, calls, 3)
}

func TestEngineStaticScreenSkipsVision(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{script: []string{watchingReply}}
	h := newEngineHarness(t, testWaitConfig(), backend, nil)
	h.source.freeze()

	job, err := h.engine.Submit(context.Background(), SubmitRequest{
		Target:   "screen:full",
		Criteria: "anything changes",
		Display:  ":0",
	})
	require.NoError(t, err)

	// First frame always evaluates; subsequent identical frames are gated.
	require.Eventually(t, func() bool {
		return h.source.captureCount() >= 4
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, backend.callCount())

	_, err = h.engine.Cancel(context.Background(), job.ID, "")
	require.NoError(t, err)
}

func TestEngineSubmitInvalidTarget(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{script: []string{watchingReply}}
	h := newEngineHarness(t, testWaitConfig(), backend, nil)

	_, err := h.engine.Submit(context.Background(), SubmitRequest{
		Target:   "region:topleft",
		Criteria: "c",
	})
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = h.engine.Submit(context.Background(), SubmitRequest{
		Target:   "window:",
		Criteria: "c",
	})
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestEngineSubmitDefaultsAndTaskLink(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{script: []string{watchingReply}}
	h := newEngineHarness(t, testWaitConfig(), backend, nil)

	job, err := h.engine.Submit(context.Background(), SubmitRequest{
		Target:   "screen",
		Criteria: "c",
		TaskID:   "task1",
		Display:  ":0",
	})
	require.NoError(t, err)
	assert.Equal(t, "screen:full", job.Target())

	created := h.journal.onCreatedCalls()
	require.Len(t, created, 1)
	assert.Equal(t, "task1:"+job.ID, created[0])

	statuses := h.engine.ActiveJobs()
	require.Len(t, statuses, 1)
	assert.Equal(t, job.ID, statuses[0].WaitID)
	assert.Equal(t, "watching", statuses[0].Status)

	_, err = h.engine.Cancel(context.Background(), job.ID, "")
	require.NoError(t, err)
}
