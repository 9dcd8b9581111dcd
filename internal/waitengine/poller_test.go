package waitengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollerFixedProfile(t *testing.T) {
	t.Parallel()

	p := NewPoller(2*time.Second, 500*time.Millisecond, 15*time.Second, false)
	for range 10 {
		p.OnNoChange()
	}
	assert.Equal(t, 2*time.Second, p.Interval())

	p.OnPartial()
	assert.Equal(t, 2*time.Second, p.Interval())
}

func TestPollerBacksOffAfterStaticRun(t *testing.T) {
	t.Parallel()

	p := NewPoller(2*time.Second, 500*time.Millisecond, 15*time.Second, true)
	for range staticRunsBeforeBackoff {
		p.OnNoChange()
	}
	assert.Equal(t, 2*time.Second, p.Interval())

	p.OnNoChange()
	assert.Equal(t, 3*time.Second, p.Interval())

	for range 20 {
		p.OnNoChange()
	}
	assert.Equal(t, 15*time.Second, p.Interval())
}

func TestPollerTightensOnPartial(t *testing.T) {
	t.Parallel()

	p := NewPoller(2*time.Second, 500*time.Millisecond, 15*time.Second, true)
	p.OnPartial()
	assert.Equal(t, time.Second, p.Interval())

	for range 5 {
		p.OnPartial()
	}
	assert.Equal(t, 500*time.Millisecond, p.Interval())
}

func TestPollerChangeResetsToBase(t *testing.T) {
	t.Parallel()

	p := NewPoller(2*time.Second, 500*time.Millisecond, 15*time.Second, true)
	for range 10 {
		p.OnNoChange()
	}
	assert.Greater(t, p.Interval(), 2*time.Second)

	p.OnChangeNoMatch()
	assert.Equal(t, 2*time.Second, p.Interval())
}

func TestPollerClampsBaseIntoBounds(t *testing.T) {
	t.Parallel()

	p := NewPoller(100*time.Millisecond, 500*time.Millisecond, 15*time.Second, true)
	assert.Equal(t, 500*time.Millisecond, p.Interval())

	p = NewPoller(time.Minute, 500*time.Millisecond, 15*time.Second, true)
	assert.Equal(t, 15*time.Second, p.Interval())
}

func TestPollerReset(t *testing.T) {
	t.Parallel()

	p := NewPoller(2*time.Second, 500*time.Millisecond, 15*time.Second, true)
	for range 10 {
		p.OnNoChange()
	}
	p.Reset()
	assert.Equal(t, 2*time.Second, p.Interval())
}
