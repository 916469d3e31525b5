// Package schedule turns the claim, prepare, start and stop instants of a
// device configuration into timers.
//
// A reschedule may widen the window but never silently narrow it: an armed
// claim, prepare or start timer is only moved earlier, and an armed stop
// timer is only moved later. A slot whose timer has already fired (or was
// never armed) takes the new instant unconditionally.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-orchestrator/internal/paramset"
	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
)

// ErrInvalid is returned for schedules that cannot be parsed or whose
// instants are out of order.
var ErrInvalid = errors.New("schedule: invalid schedule")

// Slot names one of the four schedule instants.
type Slot int

// Schedule slots in window order.
const (
	SlotClaim Slot = iota
	SlotPrepare
	SlotStart
	SlotStop
	numSlots
)

// Slots lists every slot in window order.
var Slots = [numSlots]Slot{SlotClaim, SlotPrepare, SlotStart, SlotStop}

var slotInfo = [numSlots]struct {
	key      string
	property string
	command  protocol.Kind
}{
	SlotClaim:   {"schedule.claim", "claimTime", protocol.KindClaim},
	SlotPrepare: {"schedule.prepare", "prepareTime", protocol.KindPrepare},
	SlotStart:   {"schedule.start", "startTime", protocol.KindResume},
	SlotStop:    {"schedule.stop", "stopTime", protocol.KindRelease},
}

func (s Slot) String() string {
	switch s {
	case SlotClaim:
		return "claim"
	case SlotPrepare:
		return "prepare"
	case SlotStart:
		return "start"
	case SlotStop:
		return "stop"
	}
	return fmt.Sprintf("Slot(%d)", int(s))
}

// Key is the configuration key holding the slot's instant.
func (s Slot) Key() string { return slotInfo[s].key }

// Property is the telemetry property published when the slot changes.
func (s Slot) Property() string { return slotInfo[s].property }

// Command is the request issued against the device when the slot fires.
func (s Slot) Command() protocol.Kind { return slotInfo[s].command }

// Schedule holds the four instants. A zero instant is not set.
type Schedule struct {
	Claim   time.Time
	Prepare time.Time
	Start   time.Time
	Stop    time.Time
}

// At returns the instant for slot.
func (s Schedule) At(slot Slot) time.Time {
	switch slot {
	case SlotClaim:
		return s.Claim
	case SlotPrepare:
		return s.Prepare
	case SlotStart:
		return s.Start
	case SlotStop:
		return s.Stop
	}
	return time.Time{}
}

func (s *Schedule) set(slot Slot, t time.Time) {
	switch slot {
	case SlotClaim:
		s.Claim = t
	case SlotPrepare:
		s.Prepare = t
	case SlotStart:
		s.Start = t
	case SlotStop:
		s.Stop = t
	}
}

// IsZero reports whether no instant is set.
func (s Schedule) IsZero() bool {
	return s.Claim.IsZero() && s.Prepare.IsZero() && s.Start.IsZero() && s.Stop.IsZero()
}

// Equal reports whether both schedules set the same instants.
func (s Schedule) Equal(o Schedule) bool {
	for _, slot := range Slots {
		if !s.At(slot).Equal(o.At(slot)) {
			return false
		}
	}
	return true
}

// Parse reads the schedule.* keys of a configuration and validates them.
// A configuration without schedule keys yields the zero Schedule.
func Parse(set paramset.Set) (Schedule, error) {
	var s Schedule
	for _, slot := range Slots {
		t, err := set.Time(slot.Key())
		if err != nil {
			return Schedule{}, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		s.set(slot, t)
	}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

// Validate checks claim <= prepare <= start < stop over the set instants.
func (s Schedule) Validate() error {
	var prev time.Time
	var prevSlot Slot
	for _, slot := range Slots {
		t := s.At(slot)
		if t.IsZero() {
			continue
		}
		if !prev.IsZero() {
			if slot == SlotStop && !t.After(prev) {
				return fmt.Errorf("%w: stop %s is not after %s %s", ErrInvalid,
					t.Format(time.RFC3339), prevSlot, prev.Format(time.RFC3339))
			}
			if t.Before(prev) {
				return fmt.Errorf("%w: %s %s is before %s %s", ErrInvalid,
					slot, t.Format(time.RFC3339), prevSlot, prev.Format(time.RFC3339))
			}
		}
		prev, prevSlot = t, slot
	}
	return nil
}

// Store writes the instants into set, removing unset ones.
func (s Schedule) Store(set paramset.Set) {
	for _, slot := range Slots {
		set.SetTime(slot.Key(), s.At(slot))
	}
}
