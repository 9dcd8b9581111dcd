package waitengine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigil-run/vigil/internal/capture"
	"github.com/vigil-run/vigil/internal/core"
	"github.com/vigil-run/vigil/internal/models"
)

// WaitJob is the runtime state of one active wait. Immutable identity
// fields are set at submission; everything mutable is guarded by mu. A job
// is evaluated by at most one goroutine at a time, but status reads may
// overlap an evaluation.
type WaitJob struct {
	ID         string
	TaskID     string
	TargetKind core.TargetKind
	TargetID   string
	Display    string
	CreatedAt  time.Time

	mu            sync.Mutex
	criteria      string
	timeout       time.Duration
	jctx          *JobContext
	poller        *Poller
	gate          *capture.DiffGate
	nextCheckAt   time.Time
	windowID      uint32
	windowKnown   bool
	lastVisionAt  time.Time
	partialStreak int
	lastFull      []byte
	lastThumb     []byte
}

func newShortID() string {
	return uuid.New().String()[:8]
}

// Criteria returns the job's current wake condition.
func (j *WaitJob) Criteria() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.criteria
}

// Target renders the wire form "<kind>:<id>".
func (j *WaitJob) Target() string {
	return string(j.TargetKind) + ":" + j.TargetID
}

// Elapsed returns time since the job's (possibly restarted) start.
func (j *WaitJob) Elapsed(now time.Time) time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return now.Sub(j.jctx.StartedAt())
}

// Row renders the durable slice of the job for persistence.
func (j *WaitJob) Row() models.WaitRow {
	j.mu.Lock()
	defer j.mu.Unlock()
	return models.WaitRow{
		ID:           j.ID,
		TaskID:       j.TaskID,
		TargetKind:   string(j.TargetKind),
		TargetID:     j.TargetID,
		Criteria:     j.criteria,
		TimeoutSec:   int(j.timeout.Seconds()),
		PollInterval: j.poller.Interval().Seconds(),
		Status:       core.WaitWatching.String(),
		CreatedAt:    j.CreatedAt,
	}
}

// Status snapshots the job for status replies.
func (j *WaitJob) Status(now time.Time) JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	verdicts := j.jctx.Verdicts()
	records := make([]models.VerdictRecord, len(verdicts))
	for i, v := range verdicts {
		records[i] = models.VerdictRecord{
			Result:      v.Label.String(),
			Description: v.Description,
			Timestamp:   v.At,
		}
	}
	return JobStatus{
		WaitID:         j.ID,
		Status:         core.WaitWatching.String(),
		Target:         j.Target(),
		Criteria:       j.criteria,
		ElapsedSeconds: now.Sub(j.jctx.StartedAt()).Seconds(),
		PollInterval:   j.poller.Interval().Seconds(),
		FramesCaptured: j.jctx.FrameCount(),
		Verdicts:       records,
	}
}

// JobStatus is the wire shape of one job in wait-status replies.
type JobStatus struct {
	WaitID         string                 `json:"wait_id"`
	Status         string                 `json:"status"`
	Target         string                 `json:"target"`
	Criteria       string                 `json:"criteria"`
	ElapsedSeconds float64                `json:"elapsed_seconds"`
	PollInterval   float64                `json:"poll_interval"`
	FramesCaptured int                    `json:"frames_captured"`
	Verdicts       []models.VerdictRecord `json:"verdicts"`
}
