package waitengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vigil-run/vigil/internal/capture"
	"github.com/vigil-run/vigil/internal/config"
	"github.com/vigil-run/vigil/internal/core"
	"github.com/vigil-run/vigil/internal/logger"
	"github.com/vigil-run/vigil/internal/logger/tag"
	"github.com/vigil-run/vigil/internal/models"
	"github.com/vigil-run/vigil/internal/vision"
	"github.com/vigil-run/vigil/internal/wake"
)

// ErrJobNotFound is returned for operations on unknown wait ids.
var ErrJobNotFound = errors.New("wait job not found")

// ErrInvalidTarget is returned when a submitted target cannot be parsed.
var ErrInvalidTarget = errors.New("invalid wait target")

// DisplayLocks hands out the per-display mutexes that serialize captures.
type DisplayLocks interface {
	CaptureMutex(display string) *sync.Mutex
}

// WindowResolver maps a window target to an X window id on a display.
type WindowResolver interface {
	Resolve(ctx context.Context, display, target string) (uint32, error)
}

// ScreenshotSaver persists a job's terminal frame pair.
type ScreenshotSaver interface {
	Save(id, role string, full, thumb []byte) (models.ScreenshotRefs, error)
}

// Journal is the slice of the task journal the scheduler writes to.
type Journal interface {
	CreateWait(ctx context.Context, row models.WaitRow) error
	UpdateWait(ctx context.Context, waitID, criteria string, timeoutSec int) error
	FinishWait(ctx context.Context, waitID string, status core.WaitStatus, result string) error
	OnWaitCreated(ctx context.Context, taskID, waitID, target, criteria string, refs *models.ScreenshotRefs, timeoutSec int) error
	OnWaitFinished(ctx context.Context, taskID, waitID string, state core.WaitStatus, detail string, refs *models.ScreenshotRefs, elapsedSec float64) error
	LogWaitVerdict(ctx context.Context, taskID, waitID, verdict string) error
	LogWaitNote(ctx context.Context, taskID, waitID, note string) error
}

// Deps are the collaborators the engine drives.
type Deps struct {
	Locks    DisplayLocks
	Source   capture.Source
	Resolver WindowResolver
	Backend  vision.Backend
	Journal  Journal
	Shots    ScreenshotSaver
	Sink     wake.Sink

	// System is the vision system instruction; VisionTimeout bounds each
	// Evaluate call.
	System        string
	VisionTimeout time.Duration
}

// Engine is the wait scheduler: it owns every active job and runs the
// capture, gate, vision, parse, act cycle.
type Engine struct {
	cfg  config.WaitConfig
	deps Deps

	mu   sync.Mutex
	jobs map[string]*WaitJob

	wakeCh chan struct{}
}

// New creates an engine. Start must be called before jobs make progress.
func New(cfg config.WaitConfig, deps Deps) *Engine {
	if deps.VisionTimeout <= 0 {
		deps.VisionTimeout = 180 * time.Second
	}
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		jobs:   make(map[string]*WaitJob),
		wakeCh: make(chan struct{}, 1),
	}
}

// SubmitRequest is one wait submission.
type SubmitRequest struct {
	Target       string
	Criteria     string
	Timeout      time.Duration
	PollInterval time.Duration
	TaskID       string
	Display      string
}

// Submit persists and schedules a new wait job, due immediately.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*WaitJob, error) {
	kind, id, ok := core.ParseTarget(req.Target)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, req.Target)
	}
	if req.Timeout <= 0 {
		req.Timeout = e.cfg.DefaultTimeout
	}
	if req.PollInterval <= 0 {
		req.PollInterval = e.cfg.DefaultPollInterval
	}

	now := time.Now()
	job := &WaitJob{
		ID:         newShortID(),
		TaskID:     req.TaskID,
		TargetKind: kind,
		TargetID:   id,
		Display:    req.Display,
		CreatedAt:  now,
		criteria:   req.Criteria,
		timeout:    req.Timeout,
		jctx:       NewJobContext(e.cfg.MaxContextFrames, e.cfg.MaxContextVerdicts, now),
		poller: NewPoller(req.PollInterval, e.cfg.MinPollInterval, e.cfg.MaxPollInterval,
			e.cfg.AdaptivePolling),
		gate: capture.NewDiffGate(e.cfg.PixelDiffThreshold, e.cfg.DiffMaxWidth),
	}

	if err := e.deps.Journal.CreateWait(ctx, job.Row()); err != nil {
		return nil, err
	}
	if job.TaskID != "" {
		if err := e.deps.Journal.OnWaitCreated(ctx, job.TaskID, job.ID, job.Target(),
			req.Criteria, nil, int(req.Timeout.Seconds())); err != nil {
			logger.Warn(ctx, "Failed to link wait to task",
				tag.JobID(job.ID), tag.TaskID(job.TaskID), tag.Error(err))
		}
	}

	e.mu.Lock()
	e.jobs[job.ID] = job
	e.mu.Unlock()
	e.signal()

	logger.Info(ctx, "Wait job submitted", tag.JobID(job.ID), tag.Target(job.Target()),
		"criteria", req.Criteria, "timeout", req.Timeout)
	return job, nil
}

// Cancel removes a job and stamps it cancelled. Idempotent: unknown ids
// report found=false without error.
func (e *Engine) Cancel(ctx context.Context, waitID, reason string) (bool, error) {
	e.mu.Lock()
	job, ok := e.jobs[waitID]
	if ok {
		delete(e.jobs, waitID)
	}
	e.mu.Unlock()
	if !ok {
		return false, nil
	}

	if reason == "" {
		reason = "cancelled by request"
	}
	if err := e.deps.Journal.FinishWait(ctx, waitID, core.WaitCancelled, reason); err != nil {
		return true, err
	}
	if job.TaskID != "" {
		if err := e.deps.Journal.OnWaitFinished(ctx, job.TaskID, waitID, core.WaitCancelled,
			reason, nil, job.Elapsed(time.Now()).Seconds()); err != nil {
			logger.Warn(ctx, "Failed to record wait cancellation on task",
				tag.JobID(waitID), tag.TaskID(job.TaskID), tag.Error(err))
		}
	}
	logger.Info(ctx, "Wait job cancelled", tag.JobID(waitID), tag.Reason(reason))
	return true, nil
}

// UpdateRequest rebinds a live job.
type UpdateRequest struct {
	WaitID   string
	Criteria string        // empty keeps the current criteria
	Timeout  time.Duration // zero keeps the current timeout
	Message  string        // optional note recorded in the job's history
}

// Update rebinds criteria and/or timeout on a live job, resets the gate,
// poller, streak, and deadline, and makes the job due immediately.
func (e *Engine) Update(ctx context.Context, req UpdateRequest) error {
	e.mu.Lock()
	job, ok := e.jobs[req.WaitID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, req.WaitID)
	}

	now := time.Now()
	job.mu.Lock()
	if req.Criteria != "" {
		job.criteria = req.Criteria
	}
	if req.Timeout > 0 {
		job.timeout = req.Timeout
	}
	job.jctx.Restart(now)
	job.gate.Reset()
	job.poller.Reset()
	job.partialStreak = 0
	job.nextCheckAt = time.Time{}
	criteria, timeout := job.criteria, job.timeout
	job.mu.Unlock()

	if err := e.deps.Journal.UpdateWait(ctx, job.ID, criteria, int(timeout.Seconds())); err != nil {
		logger.Warn(ctx, "Failed to persist wait update", tag.JobID(job.ID), tag.Error(err))
	}
	if req.Message != "" && job.TaskID != "" {
		if err := e.deps.Journal.LogWaitNote(ctx, job.TaskID, job.ID, req.Message); err != nil {
			logger.Warn(ctx, "Failed to record wait note",
				tag.JobID(job.ID), tag.TaskID(job.TaskID), tag.Error(err))
		}
	}
	e.signal()

	logger.Info(ctx, "Wait job updated", tag.JobID(job.ID), "criteria", criteria, "timeout", timeout)
	return nil
}

// JobStatusByID snapshots one live job.
func (e *Engine) JobStatusByID(waitID string) (*JobStatus, bool) {
	e.mu.Lock()
	job, ok := e.jobs[waitID]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	st := job.Status(time.Now())
	return &st, true
}

// ActiveJobs snapshots every live job.
func (e *Engine) ActiveJobs() []JobStatus {
	e.mu.Lock()
	jobs := make([]*WaitJob, 0, len(e.jobs))
	for _, job := range e.jobs {
		jobs = append(jobs, job)
	}
	e.mu.Unlock()

	now := time.Now()
	statuses := make([]JobStatus, len(jobs))
	for i, job := range jobs {
		statuses[i] = job.Status(now)
	}
	return statuses
}

func (e *Engine) signal() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

// Start runs the scheduling loop until ctx is done. Overdue jobs within one
// tick are evaluated concurrently; the tick joins before recomputing the
// next deadline.
func (e *Engine) Start(ctx context.Context) {
	logger.Info(ctx, "Wait scheduler started")
	for {
		overdue, nextAt := e.snapshot(time.Now())

		if len(overdue) == 0 {
			var timerC <-chan time.Time
			if !nextAt.IsZero() {
				timer := time.NewTimer(time.Until(nextAt))
				timerC = timer.C
				select {
				case <-ctx.Done():
					timer.Stop()
					logger.Info(ctx, "Wait scheduler stopped")
					return
				case <-e.wakeCh:
					timer.Stop()
				case <-timerC:
				}
			} else {
				select {
				case <-ctx.Done():
					logger.Info(ctx, "Wait scheduler stopped")
					return
				case <-e.wakeCh:
				}
			}
			continue
		}

		var wg sync.WaitGroup
		for _, job := range overdue {
			wg.Add(1)
			go func(job *WaitJob) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						logger.Error(ctx, "Wait evaluation panicked", tag.JobID(job.ID), "panic", r)
					}
				}()
				e.evaluate(ctx, job)
			}(job)
		}
		wg.Wait()

		select {
		case <-ctx.Done():
			logger.Info(ctx, "Wait scheduler stopped")
			return
		default:
		}
	}
}

// snapshot partitions live jobs into overdue ones and the earliest future
// deadline.
func (e *Engine) snapshot(now time.Time) ([]*WaitJob, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var overdue []*WaitJob
	var nextAt time.Time
	for _, job := range e.jobs {
		job.mu.Lock()
		due := job.nextCheckAt
		job.mu.Unlock()
		if !due.After(now) {
			overdue = append(overdue, job)
		} else if nextAt.IsZero() || due.Before(nextAt) {
			nextAt = due
		}
	}
	return overdue, nextAt
}

func (e *Engine) alive(waitID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.jobs[waitID]
	return ok
}

// evaluate runs one capture, gate, vision, parse, act cycle for a job.
func (e *Engine) evaluate(ctx context.Context, job *WaitJob) {
	if !e.alive(job.ID) {
		return
	}
	now := time.Now()

	job.mu.Lock()
	timeout := job.timeout
	started := job.jctx.StartedAt()
	job.mu.Unlock()

	// Timeout first: it fires even when no frame was ever captured.
	if now.Sub(started) >= timeout {
		e.finalize(ctx, job, core.WaitTimeout, e.timeoutDescription(job, timeout))
		return
	}

	frame, ok := e.captureFrame(ctx, job)
	if !ok {
		e.reschedule(job, now)
		return
	}

	job.mu.Lock()
	changed, ratio := job.gate.Changed(frame)
	staticFor := now.Sub(job.lastVisionAt)
	job.mu.Unlock()

	if !changed && staticFor < e.cfg.MaxStatic {
		job.mu.Lock()
		job.poller.OnNoChange()
		job.mu.Unlock()
		e.reschedule(job, now)
		return
	}

	full, err := capture.EncodeJPEG(frame, e.cfg.FrameMaxDim, e.cfg.FrameJPEGQuality)
	if err != nil {
		logger.Warn(ctx, "Frame encode failed", tag.JobID(job.ID), tag.Error(err))
		e.reschedule(job, now)
		return
	}
	thumb, err := capture.EncodeJPEG(frame, e.cfg.ThumbMaxDim, e.cfg.ThumbJPEGQuality)
	if err != nil {
		thumb = nil
	}

	job.mu.Lock()
	job.jctx.AddFrame(full, thumb, now)
	job.lastFull, job.lastThumb = full, thumb
	job.lastVisionAt = now
	criteria := job.criteria
	prompt, images := job.jctx.BuildPrompt(criteria, now)
	job.mu.Unlock()

	logger.Debug(ctx, "Evaluating frame", tag.JobID(job.ID), tag.DiffRatio(ratio),
		tag.Backend(e.deps.Backend.Name()))

	visionCtx, cancel := context.WithTimeout(ctx, e.deps.VisionTimeout)
	raw, err := e.deps.Backend.Evaluate(visionCtx, &vision.Request{
		System: e.deps.System,
		Prompt: prompt,
		Images: images,
	})
	cancel()
	if err != nil {
		logger.Warn(ctx, "Vision evaluation failed", tag.JobID(job.ID), tag.Error(err))
		e.reschedule(job, time.Now())
		return
	}

	verdict := ParseVerdict(raw, e.cfg.ResolveConfidence, time.Now())

	job.mu.Lock()
	job.jctx.AddVerdict(verdict)
	job.mu.Unlock()

	if job.TaskID != "" {
		bg := context.WithoutCancel(ctx)
		go func() {
			line := fmt.Sprintf("%s: %s", verdict.Label, verdict.Description)
			if err := e.deps.Journal.LogWaitVerdict(bg, job.TaskID, job.ID, line); err != nil {
				logger.Debug(bg, "Failed to log wait verdict", tag.JobID(job.ID), tag.Error(err))
			}
		}()
	}

	logger.Info(ctx, "Verdict", tag.JobID(job.ID), tag.Verdict(verdict.Label.String()),
		"description", verdict.Description)

	switch verdict.Label {
	case core.VerdictResolved:
		e.finalize(ctx, job, core.WaitResolved, verdict.Description)
		return
	case core.VerdictPartial:
		job.mu.Lock()
		job.partialStreak++
		streak := job.partialStreak
		job.mu.Unlock()
		if streak >= e.cfg.PartialStreakResolve {
			desc := fmt.Sprintf("[promoted from %dx PARTIAL] %s", streak, verdict.Description)
			e.finalize(ctx, job, core.WaitResolved, desc)
			return
		}
		job.mu.Lock()
		job.poller.OnPartial()
		job.mu.Unlock()
	default:
		job.mu.Lock()
		job.partialStreak = 0
		job.poller.OnChangeNoMatch()
		job.mu.Unlock()
	}

	e.reschedule(job, time.Now())
}

// captureFrame grabs one frame under the display's capture mutex. Window
// targets resolve their window id lazily and retry every tick until it
// resolves or the job times out.
func (e *Engine) captureFrame(ctx context.Context, job *WaitJob) (capture.Frame, bool) {
	if job.TargetKind == core.TargetWindow {
		job.mu.Lock()
		known := job.windowKnown
		job.mu.Unlock()
		if !known {
			windowID, err := e.deps.Resolver.Resolve(ctx, job.Display, job.TargetID)
			if err != nil {
				logger.Debug(ctx, "Window not yet resolvable", tag.JobID(job.ID),
					tag.Target(job.Target()), tag.Error(err))
				return capture.Frame{}, false
			}
			job.mu.Lock()
			job.windowID = windowID
			job.windowKnown = true
			job.mu.Unlock()
		}
	}

	mu := e.deps.Locks.CaptureMutex(job.Display)
	mu.Lock()
	var frame capture.Frame
	var err error
	if job.TargetKind == core.TargetWindow {
		job.mu.Lock()
		windowID := job.windowID
		job.mu.Unlock()
		frame, err = e.deps.Source.CaptureWindow(ctx, job.Display, windowID)
	} else {
		frame, err = e.deps.Source.CaptureScreen(ctx, job.Display)
	}
	mu.Unlock()

	if err != nil {
		logger.Debug(ctx, "Capture miss", tag.JobID(job.ID), tag.Display(job.Display), tag.Error(err))
		return capture.Frame{}, false
	}
	return frame, true
}

func (e *Engine) reschedule(job *WaitJob, now time.Time) {
	job.mu.Lock()
	job.nextCheckAt = now.Add(job.poller.Interval())
	job.mu.Unlock()
}

func (e *Engine) timeoutDescription(job *WaitJob, timeout time.Duration) string {
	desc := fmt.Sprintf("Timeout after %ds.", int(timeout.Seconds()))
	job.mu.Lock()
	latest := job.jctx.LatestVerdict()
	job.mu.Unlock()
	if latest != nil {
		desc += " Last observation: " + latest.Description
	}
	return desc
}

// finalize runs the terminal path: remove from the map, persist, save the
// last frame, notify the task journal, and emit the wake event. The
// terminal row is authoritative even when the later steps fail.
func (e *Engine) finalize(ctx context.Context, job *WaitJob, status core.WaitStatus, desc string) {
	e.mu.Lock()
	_, present := e.jobs[job.ID]
	if present {
		delete(e.jobs, job.ID)
	}
	e.mu.Unlock()
	if !present {
		// Cancelled while this evaluation was in flight; the result is
		// discarded.
		return
	}

	if err := e.deps.Journal.FinishWait(ctx, job.ID, status, desc); err != nil {
		logger.Error(ctx, "Failed to persist wait outcome", tag.JobID(job.ID), tag.Error(err))
	}

	var refs *models.ScreenshotRefs
	job.mu.Lock()
	full, thumb := job.lastFull, job.lastThumb
	job.mu.Unlock()
	if len(full) > 0 && e.deps.Shots != nil {
		saved, err := e.deps.Shots.Save(job.ID, "after", full, thumb)
		if err != nil {
			logger.Warn(ctx, "Failed to save terminal screenshot", tag.JobID(job.ID), tag.Error(err))
		} else {
			refs = &saved
		}
	}

	elapsed := job.Elapsed(time.Now()).Seconds()
	if job.TaskID != "" {
		if err := e.deps.Journal.OnWaitFinished(ctx, job.TaskID, job.ID, status, desc, refs, elapsed); err != nil {
			logger.Warn(ctx, "Failed to record wait outcome on task",
				tag.JobID(job.ID), tag.TaskID(job.TaskID), tag.Error(err))
		}
	}

	var message string
	switch status {
	case core.WaitResolved:
		message = fmt.Sprintf("[smart_wait resolved] Job %s: %s → %s", job.ID, job.Criteria(), desc)
	case core.WaitTimeout:
		message = fmt.Sprintf("[smart_wait timeout] Job %s: %s — %s", job.ID, job.Criteria(), desc)
	}
	if message != "" {
		if err := e.deps.Sink.Emit(ctx, message); err != nil {
			logger.Warn(ctx, "Failed to emit wake event", tag.JobID(job.ID), tag.Error(err))
		}
	}

	logger.Info(ctx, "Wait job finished", tag.JobID(job.ID), tag.Status(status.String()),
		"elapsed", elapsed, "description", desc)
}
