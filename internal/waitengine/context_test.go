package waitengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-run/vigil/internal/core"
)

func TestJobContextEvictsOldFrames(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c := NewJobContext(2, 3, now)
	c.AddFrame([]byte("f1"), []byte("t1"), now)
	c.AddFrame([]byte("f2"), []byte("t2"), now.Add(time.Second))
	c.AddFrame([]byte("f3"), []byte("t3"), now.Add(2*time.Second))

	assert.Equal(t, 3, c.FrameCount())

	_, images := c.BuildPrompt("done", now.Add(3*time.Second))
	require.Len(t, images, 2)
	assert.Equal(t, []byte("t2"), images[0])
	assert.Equal(t, []byte("f3"), images[1])
}

func TestJobContextEvictsOldVerdicts(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c := NewJobContext(4, 2, now)
	c.AddVerdict(Verdict{Label: core.VerdictWatching, Description: "one", At: now})
	c.AddVerdict(Verdict{Label: core.VerdictWatching, Description: "two", At: now})
	c.AddVerdict(Verdict{Label: core.VerdictPartial, Description: "three", At: now})

	vs := c.Verdicts()
	require.Len(t, vs, 2)
	assert.Equal(t, "two", vs[0].Description)
	assert.Equal(t, "three", vs[1].Description)

	latest := c.LatestVerdict()
	require.NotNil(t, latest)
	assert.Equal(t, "three", latest.Description)
}

func TestJobContextLatestVerdictEmpty(t *testing.T) {
	t.Parallel()

	c := NewJobContext(4, 3, time.Now())
	assert.Nil(t, c.LatestVerdict())
}

func TestBuildPromptContent(t *testing.T) {
	t.Parallel()

	start := time.Now()
	c := NewJobContext(4, 3, start)
	c.AddFrame([]byte("full"), []byte("thumb"), start.Add(10*time.Second))
	c.AddVerdict(Verdict{
		Label:       core.VerdictPartial,
		Description: "bar at 60%",
		At:          start.Add(10 * time.Second),
	})

	prompt, images := c.BuildPrompt("installer finished", start.Add(30*time.Second))
	assert.Contains(t, prompt, "CONDITION: installer finished")
	assert.Contains(t, prompt, "partial: bar at 60%")
	assert.Contains(t, prompt, `FINAL_JSON: {"decision": "resolved|watching|partial"`)
	require.Len(t, images, 1)
	assert.Equal(t, []byte("full"), images[0])
}

func TestJobContextRestart(t *testing.T) {
	t.Parallel()

	start := time.Now()
	c := NewJobContext(4, 3, start)
	later := start.Add(time.Minute)
	c.Restart(later)
	assert.Equal(t, later, c.StartedAt())
}

func TestJobContextSkipsMissingThumbs(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c := NewJobContext(3, 3, now)
	c.AddFrame([]byte("f1"), nil, now)
	c.AddFrame([]byte("f2"), []byte("t2"), now)
	c.AddFrame([]byte("f3"), []byte("t3"), now)

	_, images := c.BuildPrompt("done", now)
	require.Len(t, images, 2)
	assert.Equal(t, []byte("t2"), images[0])
	assert.Equal(t, []byte("f3"), images[1])
}
