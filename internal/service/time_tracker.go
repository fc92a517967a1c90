package service

import (
	"time"

	"github.com/stemsi/exstem-assessment/internal/model"
)

// TimeTracker accounts active time from client-reported deltas and decides
// expiry. It never trusts an absolute duration from the client.
type TimeTracker struct {
	maxDelta time.Duration
	now      func() time.Time
}

// NewTimeTracker creates a TimeTracker. maxDelta caps one reported delta;
// a nil now uses time.Now.
func NewTimeTracker(maxDelta time.Duration, now func() time.Time) *TimeTracker {
	if now == nil {
		now = time.Now
	}
	return &TimeTracker{maxDelta: maxDelta, now: now}
}

// Now returns the tracker's current time.
func (t *TimeTracker) Now() time.Time {
	return t.now()
}

// Deadline is the instant an attempt started at startedAt must end: the
// configured duration, cut short by the end of the test's window.
func (t *TimeTracker) Deadline(startedAt time.Time, test *model.TestDefinition) time.Time {
	deadline := startedAt.Add(test.Duration())
	if test.WindowEnd != nil && test.WindowEnd.Before(deadline) {
		deadline = *test.WindowEnd
	}
	return deadline
}

// Bound clamps a client delta and returns it with the ceiling the
// accumulated time may not exceed: wall-clock time since start, capped at
// the attempt's duration.
func (t *TimeTracker) Bound(a *model.Attempt, clientDeltaMs int64, now time.Time) (deltaMs, ceilingMs int64) {
	deltaMs = clientDeltaMs
	if deltaMs < 0 {
		deltaMs = 0
	}
	if maxMs := t.maxDelta.Milliseconds(); maxMs > 0 && deltaMs > maxMs {
		deltaMs = maxMs
	}

	ceilingMs = t.Elapsed(a, now).Milliseconds()
	if a.DurationMs > 0 && ceilingMs > a.DurationMs {
		ceilingMs = a.DurationMs
	}
	return deltaMs, ceilingMs
}

// Elapsed is the wall-clock time since the attempt started.
func (t *TimeTracker) Elapsed(a *model.Attempt, now time.Time) time.Duration {
	if a.StartedAt == nil {
		return 0
	}
	if d := now.Sub(*a.StartedAt); d > 0 {
		return d
	}
	return 0
}

// IsExpired reports whether the attempt has used up maxDuration by wall
// clock or by accumulated active time, or has passed its deadline.
func (t *TimeTracker) IsExpired(a *model.Attempt, maxDuration time.Duration, now time.Time) bool {
	if a.StartedAt == nil {
		return false
	}
	if t.Elapsed(a, now) >= maxDuration {
		return true
	}
	if time.Duration(a.TimeSpentMs)*time.Millisecond >= maxDuration {
		return true
	}
	return a.DeadlineAt != nil && !now.Before(*a.DeadlineAt)
}

// IsAttemptExpired applies IsExpired with the attempt's frozen duration.
func (t *TimeTracker) IsAttemptExpired(a *model.Attempt, now time.Time) bool {
	return a.Status == model.AttemptStatusInProgress &&
		t.IsExpired(a, time.Duration(a.DurationMs)*time.Millisecond, now)
}

// Remaining is the time left before the attempt expires, never negative.
func (t *TimeTracker) Remaining(a *model.Attempt, now time.Time) time.Duration {
	if a.Status != model.AttemptStatusInProgress || a.StartedAt == nil {
		if a.Status == model.AttemptStatusNotStarted {
			return time.Duration(a.DurationMs) * time.Millisecond
		}
		return 0
	}

	duration := time.Duration(a.DurationMs) * time.Millisecond
	remaining := duration - t.Elapsed(a, now)
	if byActive := duration - time.Duration(a.TimeSpentMs)*time.Millisecond; byActive < remaining {
		remaining = byActive
	}
	if a.DeadlineAt != nil {
		if byDeadline := a.DeadlineAt.Sub(now); byDeadline < remaining {
			remaining = byDeadline
		}
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}
