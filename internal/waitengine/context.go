package waitengine

import (
	"fmt"
	"strings"
	"time"

	"github.com/vigil-run/vigil/internal/stringutil"
)

// ContextFrame is one encoded observation held by a job context.
type ContextFrame struct {
	Full  []byte
	Thumb []byte
	At    time.Time
}

// JobContext is the rolling window of recent frames and verdicts for one
// wait job, and the builder of the vision prompt. Frames and verdicts are
// evicted FIFO; the newest frame is always retained.
type JobContext struct {
	maxFrames   int
	maxVerdicts int

	frames     []ContextFrame
	verdicts   []Verdict
	frameCount int

	startedAt    time.Time
	lastChangeAt time.Time
}

// NewJobContext creates a context with the given caps, stamped started now.
func NewJobContext(maxFrames, maxVerdicts int, now time.Time) *JobContext {
	if maxFrames <= 0 {
		maxFrames = 4
	}
	if maxVerdicts <= 0 {
		maxVerdicts = 3
	}
	return &JobContext{
		maxFrames:    maxFrames,
		maxVerdicts:  maxVerdicts,
		startedAt:    now,
		lastChangeAt: now,
	}
}

// AddFrame appends an observation, evicting the oldest past the cap, and
// advances the last-change stamp.
func (c *JobContext) AddFrame(full, thumb []byte, at time.Time) {
	c.frames = append(c.frames, ContextFrame{Full: full, Thumb: thumb, At: at})
	if len(c.frames) > c.maxFrames {
		c.frames = c.frames[1:]
	}
	c.frameCount++
	c.lastChangeAt = at
}

// AddVerdict appends a verdict, evicting the oldest past the cap.
func (c *JobContext) AddVerdict(v Verdict) {
	c.verdicts = append(c.verdicts, v)
	if len(c.verdicts) > c.maxVerdicts {
		c.verdicts = c.verdicts[1:]
	}
}

// StartedAt returns the job's wall-clock start.
func (c *JobContext) StartedAt() time.Time { return c.startedAt }

// Restart re-stamps the start time. Used when criteria are rebound.
func (c *JobContext) Restart(now time.Time) { c.startedAt = now }

// FrameCount returns the total number of frames ever ingested, not just
// those still retained.
func (c *JobContext) FrameCount() int { return c.frameCount }

// Verdicts returns the retained verdicts, oldest first.
func (c *JobContext) Verdicts() []Verdict {
	return append([]Verdict(nil), c.verdicts...)
}

// LatestVerdict returns the newest verdict, or nil.
func (c *JobContext) LatestVerdict() *Verdict {
	if len(c.verdicts) == 0 {
		return nil
	}
	v := c.verdicts[len(c.verdicts)-1]
	return &v
}

// BuildPrompt renders the evaluation prompt and the ordered image list:
// thumbnails of every historical frame, then the newest frame full-res as
// the last element.
func (c *JobContext) BuildPrompt(criteria string, now time.Time) (string, [][]byte) {
	var b strings.Builder

	fmt.Fprintf(&b, "You are watching a computer screen, waiting for a specific condition to become true.\n\n")
	fmt.Fprintf(&b, "CONDITION: %s\n\n", criteria)
	fmt.Fprintf(&b, "Elapsed since the wait started: %s. Last screen change: %s.\n",
		stringutil.FormatDuration(now.Sub(c.startedAt)),
		stringutil.FormatAgo(c.lastChangeAt, now))

	if len(c.verdicts) > 0 {
		b.WriteString("\nPrevious assessments (oldest first):\n")
		for _, v := range c.verdicts {
			fmt.Fprintf(&b, "- [%s] %s: %s\n",
				stringutil.FormatAgo(v.At, now), v.Label, v.Description)
		}
	}

	b.WriteString(`
The images show the recent history of the screen; the LAST image is the
current state at full resolution. Judge the CONDITION against the current
state, using the history only to understand what changed.

Decision policy:
- "resolved": the condition is met and the evidence is reasonably clear
  (confidence at least 0.75).
- "partial": clear progress toward the condition, but it is not met yet.
- "watching": evidence is absent, unreadable, or contradicts the condition.

Reply with short free-form reasoning, then a final line exactly of the form:
FINAL_JSON: {"decision": "resolved|watching|partial", "confidence": <0..1>, "evidence": ["..."], "summary": "..."}
`)

	images := make([][]byte, 0, len(c.frames))
	for i, f := range c.frames {
		if i == len(c.frames)-1 {
			images = append(images, f.Full)
		} else if f.Thumb != nil {
			images = append(images, f.Thumb)
		}
	}
	return b.String(), images
}
