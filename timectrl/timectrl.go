package timectrl

import (
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time. The event
// scheduler, scripted processes and the reference engine depend on this
// abstraction rather than on a concrete controller so they can be driven
// by virtual time in tests and harness runs alike.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// Elapsed returns how much simulation time has passed since the start.
	Elapsed() time.Duration
}

// TimeController holds virtual simulation time. It never advances on its
// own; the driver moves it with AdvanceTo, so results do not depend on the
// host machine. It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time

	currentTime time.Time
}

// NewVirtualClock returns a controller starting at start.
func NewVirtualClock(start time.Time) *TimeController {
	return &TimeController{StartTime: start, currentTime: start}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Elapsed returns the simulation time passed since StartTime. Implements SimClock.
func (tc *TimeController) Elapsed() time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime.Sub(tc.StartTime)
}

// AdvanceTo moves simulation time forward to t. Time is monotonic: a t
// before the current time is ignored and false is returned.
func (tc *TimeController) AdvanceTo(t time.Time) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if t.Before(tc.currentTime) {
		return false
	}
	tc.currentTime = t
	return true
}
