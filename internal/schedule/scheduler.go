package schedule

import (
	"time"

	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
	"github.com/nerrad567/gray-logic-orchestrator/internal/timer"
)

// Timers is the subset of the timer service the scheduler needs.
type Timers interface {
	Now() time.Time
	After(d time.Duration, fn func()) timer.ID
	Cancel(id timer.ID) bool
}

// FireFunc issues the slot's command against the owning device.
type FireFunc func(slot Slot, command protocol.Kind)

// ChangeFunc is told about every slot whose instant was (re)armed.
type ChangeFunc func(slot Slot, at time.Time)

type armed struct {
	at time.Time
	id timer.ID
}

// Scheduler keeps one timer per slot.
//
// Thread Safety:
//   - Not safe for concurrent use. Apply, Cancel and the timer callbacks
//     all run on the owning device's loop.
type Scheduler struct {
	timers   Timers
	fire     FireFunc
	onChange ChangeFunc
	slots    [numSlots]armed
}

// New creates a scheduler that calls fire when a slot's timer expires.
func New(timers Timers, fire FireFunc) *Scheduler {
	return &Scheduler{timers: timers, fire: fire}
}

// OnChange registers a callback for slot changes.
func (s *Scheduler) OnChange(fn ChangeFunc) {
	s.onChange = fn
}

// Apply arms the slots of next.
//
// For each set instant the slot is re-armed when no timer is currently armed
// for it, or when the instant is not in the past and widens the window
// (earlier claim, prepare or start, later stop). Instants already in the
// past fire on the next tick. When next's stop instant is already in the
// past only the stop slot is considered.
//
// Returns:
//   - []Slot: The slots that were (re)armed, in window order
func (s *Scheduler) Apply(next Schedule) []Slot {
	now := s.timers.Now()
	stopPast := !next.Stop.IsZero() && !next.Stop.After(now)

	var changed []Slot
	for _, slot := range Slots {
		at := next.At(slot)
		if at.IsZero() {
			continue
		}
		if stopPast && slot != SlotStop {
			continue
		}

		cur := &s.slots[slot]
		past := at.Before(now)
		if cur.id != 0 && (past || !widens(slot, cur.at, at)) {
			continue
		}

		s.arm(slot, at, now)
		changed = append(changed, slot)
	}
	return changed
}

func widens(slot Slot, old, next time.Time) bool {
	if slot == SlotStop {
		return next.After(old)
	}
	return next.Before(old)
}

func (s *Scheduler) arm(slot Slot, at, now time.Time) {
	cur := &s.slots[slot]
	s.timers.Cancel(cur.id)

	delay := at.Sub(now)
	if delay < 0 {
		delay = 0
	}
	cur.at = at
	cur.id = s.timers.After(delay, func() {
		// The instant is kept so Current still reports it.
		s.slots[slot].id = 0
		s.fire(slot, slot.Command())
	})

	if s.onChange != nil {
		s.onChange(slot, at)
	}
}

// Cancel disarms every slot.
func (s *Scheduler) Cancel() {
	for i := range s.slots {
		s.timers.Cancel(s.slots[i].id)
		s.slots[i].id = 0
	}
}

// Armed returns the instant of slot and whether its timer is still live.
func (s *Scheduler) Armed(slot Slot) (time.Time, bool) {
	cur := s.slots[slot]
	return cur.at, cur.id != 0
}

// Current returns the most recently armed instant of each slot, whether or
// not it has fired.
func (s *Scheduler) Current() Schedule {
	var out Schedule
	for _, slot := range Slots {
		out.set(slot, s.slots[slot].at)
	}
	return out
}
