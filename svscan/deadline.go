package svscan

import "time"

// Deadline tracks the soonest instant that the event loop must wake up at.
// The zero value has no deadline.
type Deadline struct {
	at time.Time
}

// Reset replaces the deadline with t.
func (d *Deadline) Reset(t time.Time) {
	d.at = t
}

// Propose moves the deadline to t if t is sooner.
func (d *Deadline) Propose(t time.Time) {
	d.at = Soonest(d.at, t)
}

// At returns the current deadline. It is zero if none has been set.
func (d Deadline) At() time.Time {
	return d.at
}

// Until returns the duration from now until the deadline, clamped to the
// range [0, max]. If no deadline is set, max is returned.
func (d Deadline) Until(now time.Time, max time.Duration) time.Duration {
	if d.at.IsZero() {
		return max
	}

	wait := d.at.Sub(now)
	if wait < 0 {
		return 0
	}
	if wait > max {
		return max
	}
	return wait
}

// Soonest returns the earliest non-zero time of the given times. Zero is
// returned if all of them are zero.
func Soonest(times ...time.Time) time.Time {
	var soonest time.Time
	for _, t := range times {
		if t.IsZero() {
			continue
		}
		if soonest.IsZero() || t.Before(soonest) {
			soonest = t
		}
	}
	return soonest
}
