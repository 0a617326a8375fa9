// Package hooks - Schritt- und Zeit-basierte Ausloeser
package hooks

import "time"

// Timer triggers every EverySteps global steps or every EverySecs,
// whichever is configured. With neither set it never triggers.
type Timer struct {
	EverySteps int64
	EverySecs  time.Duration

	lastStep int64
	lastTime time.Time
	fired    bool
}

// Reset forgets the last trigger.
func (t *Timer) Reset() {
	t.lastStep, t.lastTime, t.fired = 0, time.Time{}, false
}

// Enabled reports whether the timer can ever trigger.
func (t *Timer) Enabled() bool {
	return t.EverySteps > 0 || t.EverySecs > 0
}

// ShouldTrigger reports whether step at now is due. The first step after
// Reset is always due.
func (t *Timer) ShouldTrigger(step int64, now time.Time) bool {
	if !t.Enabled() {
		return false
	}
	if !t.fired {
		return true
	}
	if step <= t.lastStep {
		return false
	}
	if t.EverySteps > 0 && step >= t.lastStep+t.EverySteps {
		return true
	}
	return t.EverySecs > 0 && now.Sub(t.lastTime) >= t.EverySecs
}

// Update records a trigger and returns the elapsed time and steps since
// the previous one. Both are zero on the first trigger.
func (t *Timer) Update(step int64, now time.Time) (time.Duration, int64) {
	var elapsed time.Duration
	var steps int64
	if t.fired {
		elapsed, steps = now.Sub(t.lastTime), step-t.lastStep
	}
	t.lastStep, t.lastTime, t.fired = step, now, true
	return elapsed, steps
}

// LastStep returns the step of the last trigger.
func (t *Timer) LastStep() (int64, bool) {
	return t.lastStep, t.fired
}
