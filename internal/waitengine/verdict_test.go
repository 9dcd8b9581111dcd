package waitengine

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vigil-run/vigil/internal/core"
)

func TestParseVerdictFinalJSON(t *testing.T) {
	t.Parallel()
	now := time.Now()

	raw := `The progress dialog is gone and the summary page is visible.
FINAL_JSON: {"decision": "resolved", "confidence": 0.92, "evidence": ["summary page shown", "no spinner"], "summary": "Install finished"}`

	v := ParseVerdict(raw, 0.75, now)
	assert.Equal(t, core.VerdictResolved, v.Label)
	assert.Contains(t, v.Description, "Install finished")
	assert.Contains(t, v.Description, "summary page shown; no spinner")
	assert.Contains(t, v.Description, "[confidence 0.92]")
	assert.Equal(t, now, v.At)
}

func TestParseVerdictFinalJSONPartial(t *testing.T) {
	t.Parallel()

	raw := `FINAL_JSON: {"decision": "partial", "confidence": 0.6, "evidence": ["bar at 80%"], "summary": "Almost there"}`
	v := ParseVerdict(raw, 0.75, time.Now())
	assert.Equal(t, core.VerdictPartial, v.Label)
	assert.Contains(t, v.Description, "Almost there")
}

func TestParseVerdictConfidentWatchingPromotesToPartial(t *testing.T) {
	t.Parallel()

	raw := `FINAL_JSON: {"decision": "watching", "confidence": 0.9, "evidence": ["download at 95%"], "summary": "Not done yet"}`
	v := ParseVerdict(raw, 0.75, time.Now())
	assert.Equal(t, core.VerdictPartial, v.Label)

	// No evidence: high confidence alone is not promoted.
	raw = `FINAL_JSON: {"decision": "watching", "confidence": 0.9, "evidence": [], "summary": "Nothing visible"}`
	v = ParseVerdict(raw, 0.75, time.Now())
	assert.Equal(t, core.VerdictWatching, v.Label)

	// Low confidence stays watching even with evidence.
	raw = `FINAL_JSON: {"decision": "watching", "confidence": 0.3, "evidence": ["maybe a dialog"], "summary": "Unclear"}`
	v = ParseVerdict(raw, 0.75, time.Now())
	assert.Equal(t, core.VerdictWatching, v.Label)
}

func TestParseVerdictUsesLastMarker(t *testing.T) {
	t.Parallel()

	raw := `FINAL_JSON: {"decision": "watching", "confidence": 0.1, "evidence": [], "summary": "first pass"}
Reconsidering after the last frame.
FINAL_JSON: {"decision": "resolved", "confidence": 0.88, "evidence": ["done banner"], "summary": "second pass"}`

	v := ParseVerdict(raw, 0.75, time.Now())
	assert.Equal(t, core.VerdictResolved, v.Label)
	assert.Contains(t, v.Description, "second pass")
}

func TestParseVerdictBracesInsideStrings(t *testing.T) {
	t.Parallel()

	raw := `FINAL_JSON: {"decision": "resolved", "confidence": 0.8, "evidence": ["output shows {\"ok\": true}"], "summary": "JSON payload visible"}`
	v := ParseVerdict(raw, 0.75, time.Now())
	assert.Equal(t, core.VerdictResolved, v.Label)
	assert.Contains(t, v.Description, `{\"ok\": true}`)
}

func TestParseVerdictLinePrefixes(t *testing.T) {
	t.Parallel()
	now := time.Now()

	v := ParseVerdict("YES: the error dialog is visible", 0.75, now)
	assert.Equal(t, core.VerdictResolved, v.Label)
	assert.Equal(t, "the error dialog is visible", v.Description)

	v = ParseVerdict("partial: progress bar moved to 60%", 0.75, now)
	assert.Equal(t, core.VerdictPartial, v.Label)

	v = ParseVerdict("NO. still loading", 0.75, now)
	assert.Equal(t, core.VerdictWatching, v.Label)
}

func TestParseVerdictMalformedJSONFallsBack(t *testing.T) {
	t.Parallel()

	v := ParseVerdict(`FINAL_JSON: {"decision": "resolved", "confidence":`, 0.75, time.Now())
	assert.Equal(t, core.VerdictWatching, v.Label)

	v = ParseVerdict(`FINAL_JSON: {"decision": "maybe", "confidence": 1, "evidence": [], "summary": "x"}`, 0.75, time.Now())
	assert.Equal(t, core.VerdictWatching, v.Label)
}

func TestParseVerdictUnrecognizedReplyTruncates(t *testing.T) {
	t.Parallel()

	raw := strings.Repeat("the screen shows many windows ", 40)
	v := ParseVerdict(raw, 0.75, time.Now())
	assert.Equal(t, core.VerdictWatching, v.Label)
	assert.LessOrEqual(t, len(v.Description), rawDescriptionLimit)
}

func TestParseVerdictEmptyReply(t *testing.T) {
	t.Parallel()

	v := ParseVerdict("", 0.75, time.Now())
	assert.Equal(t, core.VerdictWatching, v.Label)
	assert.Empty(t, v.Description)
}
