// Package scheduler runs keyed, cancellable timers whose callbacks are
// delivered to the owning event loop.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Key identifies a timer. Group is the owning lobby or race id so that every
// timer belonging to a race can be cancelled at once.
type Key struct {
	Group string
	Name  string
}

func (k Key) String() string {
	return k.Group + "/" + k.Name
}

// Dispatcher runs a fired timer callback on the owner's goroutine.
type Dispatcher func(func())

// Scheduler keeps at most one live timer per key. Arming a key cancels the
// timer already stored under it. Callbacks are delivered through the
// dispatcher and dropped if the timer was cancelled or replaced in between.
type Scheduler struct {
	clock    clockwork.Clock
	dispatch Dispatcher

	mu     sync.Mutex
	timers map[Key]*entry
	gen    uint64
	closed bool
}

type entry struct {
	timer    clockwork.Timer
	gen      uint64
	deadline time.Time
	every    time.Duration
	fn       func()
}

// New creates a scheduler. A nil dispatcher runs callbacks on the timer goroutine.
func New(clock clockwork.Clock, dispatch Dispatcher) *Scheduler {
	if dispatch == nil {
		dispatch = func(f func()) { f() }
	}
	return &Scheduler{
		clock:    clock,
		dispatch: dispatch,
		timers:   make(map[Key]*entry),
	}
}

// After arms a one-shot timer.
func (s *Scheduler) After(key Key, d time.Duration, fn func()) {
	s.arm(key, d, 0, fn)
}

// Every arms a repeating timer that keeps firing every d until cancelled.
func (s *Scheduler) Every(key Key, d time.Duration, fn func()) {
	s.arm(key, d, d, fn)
}

func (s *Scheduler) arm(key Key, d, every time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.gen++
	e := &entry{
		gen:      s.gen,
		deadline: s.clock.Now().Add(d),
		every:    every,
		fn:       fn,
	}
	e.timer = s.clock.AfterFunc(d, s.fireFunc(key, e.gen))
	s.replaceTimer(key, e)
}

// replaceTimer stores e under key, stopping any timer it displaces.
// Callers hold s.mu.
func (s *Scheduler) replaceTimer(key Key, e *entry) {
	if existing, ok := s.timers[key]; ok {
		existing.timer.Stop()
		log.Debug().Str("timer", key.String()).Msg("replaced existing timer")
	}
	s.timers[key] = e
}

func (s *Scheduler) fireFunc(key Key, gen uint64) func() {
	return func() {
		s.dispatch(func() { s.deliver(key, gen) })
	}
}

// deliver runs on the dispatcher. A timer that was cancelled or replaced
// after it fired is ignored here.
func (s *Scheduler) deliver(key Key, gen uint64) {
	s.mu.Lock()
	e, ok := s.timers[key]
	if !ok || e.gen != gen || s.closed {
		s.mu.Unlock()
		log.Debug().Str("timer", key.String()).Msg("dropping stale timer fire")
		return
	}
	fn := e.fn
	s.mu.Unlock()

	fn()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok = s.timers[key]
	if !ok || e.gen != gen {
		return
	}
	if e.every <= 0 || s.closed {
		delete(s.timers, key)
		return
	}
	e.deadline = s.clock.Now().Add(e.every)
	e.timer = s.clock.AfterFunc(e.every, s.fireFunc(key, gen))
}

// Cancel stops the timer under key. It reports whether one was armed.
func (s *Scheduler) Cancel(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.timers[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.timers, key)
	return true
}

// CancelGroup stops every timer in group and returns how many were armed.
func (s *Scheduler) CancelGroup(group string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, e := range s.timers {
		if key.Group != group {
			continue
		}
		e.timer.Stop()
		delete(s.timers, key)
		n++
	}
	if n > 0 {
		log.Debug().Str("group", group).Int("timers", n).Msg("cancelled timer group")
	}
	return n
}

// Active reports whether a timer is armed under key.
func (s *Scheduler) Active(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Deadline returns when the timer under key is next due.
func (s *Scheduler) Deadline(key Key) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

// Len returns the number of armed timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// GroupLen returns the number of armed timers in group.
func (s *Scheduler) GroupLen(group string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.timers {
		if key.Group == group {
			n++
		}
	}
	return n
}

// Idle blocks until no armed timer is past its deadline, meaning every due
// callback has been delivered and returned. It is meant for tests driving a
// fake clock.
func (s *Scheduler) Idle(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if !s.hasDue() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) hasDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for _, e := range s.timers {
		if !e.deadline.After(now) {
			return true
		}
	}
	return false
}

// Stop cancels every timer and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, key)
	}
	s.closed = true
}
