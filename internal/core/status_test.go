package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWaitStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    WaitStatus
		wantErr bool
	}{
		{"watching", WaitWatching, false},
		{"resolved", WaitResolved, false},
		{"TIMEOUT", WaitTimeout, false},
		{"cancelled", WaitCancelled, false},
		{"canceled", WaitCancelled, false},
		{" error ", WaitError, false},
		{"done", 0, true},
		{"", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseWaitStatus(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestWaitStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, WaitWatching.IsTerminal())
	for _, s := range []WaitStatus{WaitResolved, WaitTimeout, WaitCancelled, WaitError} {
		assert.True(t, s.IsTerminal(), s.String())
	}
}

func TestParseTaskStatusAlias(t *testing.T) {
	t.Parallel()

	got, err := ParseTaskStatus("Canceled")
	require.NoError(t, err)
	assert.Equal(t, TaskCancelled, got)
	assert.True(t, got.IsTerminal())

	_, err = ParseTaskStatus("bogus")
	assert.Error(t, err)
}

func TestItemStatusRoundTrip(t *testing.T) {
	t.Parallel()

	for _, s := range []ItemStatus{ItemPending, ItemActive, ItemCompleted, ItemFailed, ItemSkipped} {
		got, err := ParseItemStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestVerdictOrdering(t *testing.T) {
	t.Parallel()

	assert.Greater(t, VerdictResolved, VerdictPartial)
	assert.Greater(t, VerdictPartial, VerdictWatching)
	assert.Equal(t, "resolved", VerdictResolved.String())
	assert.Equal(t, "partial", VerdictPartial.String())
	assert.Equal(t, "watching", VerdictWatching.String())
}

func TestParseTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		kind TargetKind
		id   string
		ok   bool
	}{
		{"screen", TargetScreen, "full", true},
		{"screen:full", TargetScreen, "full", true},
		{"window:12345", TargetWindow, "12345", true},
		{"window:Firefox", TargetWindow, "Firefox", true},
		{"window:", TargetWindow, "", false},
		{"pty:0", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range tests {
		kind, id, ok := ParseTarget(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		if tc.ok {
			assert.Equal(t, tc.kind, kind, "input %q", tc.in)
			assert.Equal(t, tc.id, id, "input %q", tc.in)
		}
	}
}
