// Package activity tracks in-flight requests and shuts the process down after
// a configurable idle period.
package activity

import (
	"sync/atomic"
	"time"
)

// Tracker counts in-flight requests and remembers when the last one started.
type Tracker struct {
	active atomic.Int64
	last   atomic.Int64 // unix nanos
	now    func() time.Time
}

// NewTracker stamps the start time as the initial activity.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	t := &Tracker{now: now}
	t.last.Store(now().UnixNano())
	return t
}

// Enter marks a request start; call the returned func when it ends.
func (t *Tracker) Enter() (exit func()) {
	t.active.Add(1)
	t.last.Store(t.now().UnixNano())
	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			t.active.Add(-1)
		}
	}
}

// Active returns the number of in-flight requests.
func (t *Tracker) Active() int64 { return t.active.Load() }

// Busy reports whether any request is in flight.
func (t *Tracker) Busy() bool { return t.Active() > 0 }

// LastActivity returns the start time of the most recent request.
func (t *Tracker) LastActivity() time.Time { return time.Unix(0, t.last.Load()) }

// Idle returns the time since the most recent request started. A long
// request counts as idle time once it has been running past the threshold.
func (t *Tracker) Idle() time.Duration {
	return t.now().Sub(t.LastActivity())
}
