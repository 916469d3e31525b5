// Package timer provides cancellable one-shot timers whose callbacks run on
// their owner's event loop rather than on a clock goroutine.
//
// The clock only signals expiry; the callback is handed to the owner's
// executor and, once there, runs only if the timer is still live. A Cancel
// made on the loop before the posted callback is dequeued therefore always
// wins, even if the underlying clock already fired.
package timer

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// ID identifies an armed timer. The zero ID is never issued.
type ID uint64

// Executor hands a function to the owning event loop. It must not block and
// must not call back into the clock.
type Executor func(fn func())

// Service issues timers for one owner.
//
// Thread Safety:
//   - After, Cancel and CancelAll may be called from any goroutine.
//   - Callbacks only ever run inside the Executor.
type Service struct {
	clock clock.WithDelayedExecution
	exec  Executor

	mu     sync.Mutex
	nextID ID
	armed  map[ID]clock.Timer
}

// New creates a timer service.
//
// Parameters:
//   - clk: Clock used for scheduling (clock.RealClock{} in production)
//   - exec: Executor that runs fired callbacks on the owner's loop
//
// Returns:
//   - *Service: Service with no timers armed
func New(clk clock.WithDelayedExecution, exec Executor) *Service {
	return &Service{
		clock: clk,
		exec:  exec,
		armed: make(map[ID]clock.Timer),
	}
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// After arms a one-shot timer. Non-positive delays fire on the next clock
// tick.
func (s *Service) After(d time.Duration, fn func()) ID {
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.armed[id] = nil
	s.mu.Unlock()

	t := s.clock.AfterFunc(d, func() {
		s.exec(func() { s.fire(id, fn) })
	})

	s.mu.Lock()
	_, live := s.armed[id]
	if live {
		s.armed[id] = t
	}
	s.mu.Unlock()

	if !live {
		t.Stop()
	}
	return id
}

// fire runs fn if id has not been cancelled in the meantime.
func (s *Service) fire(id ID, fn func()) {
	s.mu.Lock()
	_, live := s.armed[id]
	delete(s.armed, id)
	s.mu.Unlock()

	if live {
		fn()
	}
}

// Cancel disarms a timer. It reports whether the timer was still live.
// Cancelling the zero ID or an already fired timer is a no-op.
func (s *Service) Cancel(id ID) bool {
	if id == 0 {
		return false
	}
	s.mu.Lock()
	t, ok := s.armed[id]
	delete(s.armed, id)
	s.mu.Unlock()

	if ok && t != nil {
		t.Stop()
	}
	return ok
}

// CancelAll disarms every live timer.
func (s *Service) CancelAll() {
	s.mu.Lock()
	timers := s.armed
	s.armed = make(map[ID]clock.Timer)
	s.mu.Unlock()

	for _, t := range timers {
		if t != nil {
			t.Stop()
		}
	}
}

// Pending returns the number of live timers.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.armed)
}
