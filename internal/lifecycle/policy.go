package lifecycle

import (
	"github.com/nerrad567/gray-logic-orchestrator/internal/paramset"
	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
	"github.com/nerrad567/gray-logic-orchestrator/internal/quality"
)

// Trigger says why a state method is being evaluated.
type Trigger int

// Evaluation triggers.
const (
	// TriggerEntry: the device has just entered the state.
	TriggerEntry Trigger = iota + 1
	// TriggerReport: a child reported progress.
	TriggerReport
	// TriggerTimeout: the transition timer expired.
	TriggerTimeout
)

func (t Trigger) String() string {
	switch t {
	case TriggerEntry:
		return "entry"
	case TriggerReport:
		return "report"
	case TriggerTimeout:
		return "timeout"
	}
	return "unknown"
}

// Transition is a proposed or decided next state.
//
// A Transition whose Next equals the current state means "stay". Result is
// carried in the report sent to parents when the transition emits one.
type Transition struct {
	Next   protocol.State
	Result protocol.Result
}

// Stay returns a transition that keeps the device in state.
func Stay(state protocol.State) Transition {
	return Transition{Next: state, Result: protocol.NoError}
}

// Scope is the read-only view of a device handed to policy methods.
type Scope interface {
	Name() string
	State() protocol.State
	Params() paramset.Set
	Trigger() Trigger

	// Children returns the parent's view of every declared child.
	Children() []quality.Member

	// Outstanding counts connected children matching filter that still
	// owe a report since the current state was entered.
	Outstanding(filter string) int

	Logger() Logger
}

// Policy is the per-device-type behaviour plugged into the state machine.
//
// The entry actions run when a command is accepted, before the state
// changes; a result other than NoError aborts the command and is returned to
// the caller. The state methods run on entry to a waiting state, once per
// child report, and when the transition timer expires; they receive the
// machine's proposal and return the transition to take.
type Policy interface {
	Claim(s Scope) protocol.Result
	Prepare(s Scope) protocol.Result
	Resume(s Scope) protocol.Result
	Suspend(s Scope) protocol.Result
	Release(s Scope) protocol.Result

	Idle(s Scope, proposal Transition) Transition
	Claiming(s Scope, proposal Transition) Transition
	Claimed(s Scope, proposal Transition) Transition
	Preparing(s Scope, proposal Transition) Transition
	Suspended(s Scope, proposal Transition) Transition
	Active(s Scope, proposal Transition) Transition
	Releasing(s Scope, proposal Transition) Transition

	// ChildConfig returns extra keys for the configuration blob distributed
	// to child key. They override the keys the machine derives itself.
	ChildConfig(s Scope, key string) paramset.Set
}

// BasePolicy accepts every command and every proposal. Embed it and
// override the methods a device type cares about.
type BasePolicy struct{}

func (BasePolicy) Claim(Scope) protocol.Result   { return protocol.NoError }
func (BasePolicy) Prepare(Scope) protocol.Result { return protocol.NoError }
func (BasePolicy) Resume(Scope) protocol.Result  { return protocol.NoError }
func (BasePolicy) Suspend(Scope) protocol.Result { return protocol.NoError }
func (BasePolicy) Release(Scope) protocol.Result { return protocol.NoError }

func (BasePolicy) Idle(_ Scope, p Transition) Transition      { return p }
func (BasePolicy) Claiming(_ Scope, p Transition) Transition  { return p }
func (BasePolicy) Claimed(_ Scope, p Transition) Transition   { return p }
func (BasePolicy) Preparing(_ Scope, p Transition) Transition { return p }
func (BasePolicy) Suspended(_ Scope, p Transition) Transition { return p }
func (BasePolicy) Active(_ Scope, p Transition) Transition    { return p }
func (BasePolicy) Releasing(_ Scope, p Transition) Transition { return p }

func (BasePolicy) ChildConfig(Scope, string) paramset.Set { return nil }

// Target is the state a waiting state moves to once its children agree.
// finishing selects GOINGDOWN over IDLE for RELEASING.
func Target(state protocol.State, finishing bool) protocol.State {
	switch state {
	case protocol.StateClaiming:
		return protocol.StateClaimed
	case protocol.StatePreparing:
		return protocol.StateSuspended
	case protocol.StateReleasing:
		if finishing {
			return protocol.StateGoingDown
		}
		return protocol.StateIdle
	}
	return state
}

// Fallback is the safe state a waiting state degrades to when its children
// do not agree. Releasing has no fallback and proceeds regardless.
func Fallback(state protocol.State, finishing bool) protocol.State {
	switch state {
	case protocol.StateClaiming:
		return protocol.StateIdle
	case protocol.StatePreparing:
		return protocol.StateClaimed
	case protocol.StateReleasing:
		return Target(state, finishing)
	}
	return state
}

// reportFor returns the report emitted to parents for a transition. A
// waiting state reports only when it resolves to its target or fallback; a
// claim or prepare cut short by a release says nothing until the release
// completes and reports RELEASED.
func reportFor(from, to protocol.State) (protocol.Kind, bool) {
	switch from {
	case protocol.StateInitial:
		return protocol.KindUnknown, false
	case protocol.StateClaiming, protocol.StatePreparing:
		if to != Target(from, false) && to != Fallback(from, false) {
			return protocol.KindUnknown, false
		}
		if from == protocol.StateClaiming {
			return protocol.KindClaimed, true
		}
		return protocol.KindPrepared, true
	case protocol.StateReleasing:
		return protocol.KindReleased, true
	}
	switch to {
	case protocol.StateActive:
		return protocol.KindResumed, true
	case protocol.StateSuspended:
		return protocol.KindSuspended, true
	case protocol.StateClaimed:
		return protocol.KindClaimed, true
	case protocol.StateIdle:
		return protocol.KindReleased, true
	}
	return protocol.KindUnknown, false
}

// reportedState maps a child's report to the state the parent records for
// it. ok is false when the report leaves the recorded state unchanged.
func reportedState(kind protocol.Kind, result protocol.Result) (protocol.State, bool) {
	switch result {
	case protocol.NoError:
		switch kind {
		case protocol.KindClaimed:
			return protocol.StateClaimed, true
		case protocol.KindPrepared:
			return protocol.StateSuspended, true
		case protocol.KindResumed:
			return protocol.StateActive, true
		case protocol.KindSuspended:
			return protocol.StateSuspended, true
		case protocol.KindReleased:
			return protocol.StateIdle, true
		}
	case protocol.LowQuality, protocol.Timeout:
		switch kind {
		case protocol.KindClaimed, protocol.KindReleased:
			return protocol.StateIdle, true
		case protocol.KindPrepared:
			return protocol.StateClaimed, true
		}
	}
	return protocol.StateIdle, false
}
