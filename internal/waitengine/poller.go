// Package waitengine implements the wait scheduler and its per-job
// machinery: adaptive polling, the rolling job context, verdict parsing,
// and the evaluation loop that turns frames into wake events.
package waitengine

import "time"

// staticRunsBeforeBackoff is how many consecutive unchanged frames the
// adaptive profile tolerates before stretching the interval.
const staticRunsBeforeBackoff = 5

// Poller computes the delay until a job's next check. The adaptive profile
// stretches the interval on static screens and tightens it on partial
// progress; the fixed profile always returns the base interval. Not safe
// for concurrent use; each job owns its poller.
type Poller struct {
	base     time.Duration
	min      time.Duration
	max      time.Duration
	adaptive bool

	current time.Duration
	static  int
}

// NewPoller creates a poller with the given bounds and profile.
func NewPoller(base, min, max time.Duration, adaptive bool) *Poller {
	if base < min {
		base = min
	}
	if base > max {
		base = max
	}
	return &Poller{base: base, min: min, max: max, adaptive: adaptive, current: base}
}

// Interval returns the current inter-check delay.
func (p *Poller) Interval() time.Duration {
	return p.current
}

// OnNoChange records a gate-skipped tick. After a run of static frames the
// adaptive profile backs off by 1.5x up to the max.
func (p *Poller) OnNoChange() {
	if !p.adaptive {
		return
	}
	p.static++
	if p.static > staticRunsBeforeBackoff {
		p.current = minDuration(p.current*3/2, p.max)
	}
}

// OnChangeNoMatch records a changed frame whose verdict was watching: the
// screen is alive again, so return to the base cadence.
func (p *Poller) OnChangeNoMatch() {
	p.static = 0
	if p.adaptive {
		p.current = p.base
	}
}

// OnPartial records a partial verdict: the condition is close, poll faster.
func (p *Poller) OnPartial() {
	p.static = 0
	if p.adaptive {
		p.current = maxDuration(p.current/2, p.min)
	}
}

// Reset restores the initial state. Used when a job's criteria are rebound.
func (p *Poller) Reset() {
	p.current = p.base
	p.static = 0
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
