package sched

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/routeharness/timectrl"
)

// EventScheduler schedules callbacks to run at specific simulation times
// based on a SimClock implementation. Scripted processes, app agents and the
// reference engine all suspend by scheduling their next activation here.
//
// The driver loop will:
// - Advance the simulation clock to NextAt().
// - Call RunDue(stop) after each advance.
type EventScheduler interface {
	// Schedule registers a callback f to run at simulation time 'at'.
	// It returns an opaque event ID that can be used to cancel the event.
	Schedule(at time.Time, f func()) (id string)

	// After registers f to run d after the current simulation time.
	After(d time.Duration, f func()) (id string)

	// Cancel attempts to cancel a previously scheduled event.
	// It is a no-op if the ID is unknown or the event already ran.
	Cancel(id string)

	// Now returns the current simulation time, delegated to the underlying SimClock.
	Now() time.Time

	// Elapsed returns the simulation time elapsed since the clock started.
	Elapsed() time.Duration

	// NextAt returns the time of the earliest pending event.
	NextAt() (time.Time, bool)

	// RunDue executes all events whose scheduled time is <= Now() and
	// reports how many ran. Already-run events never run again. A non-nil
	// stop is checked before each event; once it returns true the remaining
	// due events stay queued.
	RunDue(stop func() bool) int
}

type scheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// eventScheduler stores events ordered by scheduled time. Events sharing a
// time run in the order they were scheduled.
type eventScheduler struct {
	clock timectrl.SimClock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent
	index   map[string]*scheduledEvent
}

// NewEventScheduler creates a new event scheduler backed by the given SimClock.
func NewEventScheduler(clock timectrl.SimClock) EventScheduler {
	return &eventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

// Schedule registers a callback to run at the specified simulation time.
func (s *eventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)

	ev := &scheduledEvent{
		id:   id,
		when: at,
		f:    f,
	}
	s.addEventLocked(ev)
	s.index[id] = ev

	return id
}

func (s *eventScheduler) After(d time.Duration, f func()) string {
	return s.Schedule(s.clock.Now().Add(d), f)
}

// addEventLocked inserts an event after every event scheduled at or before
// its time. Caller must hold s.mu lock.
func (s *eventScheduler) addEventLocked(ev *scheduledEvent) {
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(ev.when)
	})

	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
}

// Cancel attempts to cancel a previously scheduled event.
func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}

	ev.cancelled = true
	delete(s.index, id)
	// Removal from s.events is lazy; RunDue and NextAt skip cancelled events.
}

// Now returns the current simulation time from the underlying clock.
func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

func (s *eventScheduler) Elapsed() time.Duration {
	return s.clock.Elapsed()
}

// NextAt returns the time of the earliest non-cancelled event.
func (s *eventScheduler) NextAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.events) > 0 && s.events[0].cancelled {
		s.events = s.events[1:]
	}
	if len(s.events) == 0 {
		return time.Time{}, false
	}
	return s.events[0].when, true
}

// popDueLocked removes and returns the next due event, or nil.
// Caller must hold s.mu lock.
func (s *eventScheduler) popDueLocked() *scheduledEvent {
	now := s.clock.Now()
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(now) {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		return ev
	}
	return nil
}

// RunDue executes all events whose scheduled time is <= Now(), including
// events scheduled for the current instant by the callbacks themselves.
func (s *eventScheduler) RunDue(stop func() bool) int {
	ran := 0
	for {
		if stop != nil && stop() {
			return ran
		}
		s.mu.Lock()
		ev := s.popDueLocked()
		s.mu.Unlock()
		if ev == nil {
			return ran
		}
		ran++

		// Callbacks run outside the lock so they can schedule follow-ups.
		if ev.f != nil {
			ev.f()
		}
	}
}
