package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-orchestrator/internal/lifecycle"
	"github.com/nerrad567/gray-logic-orchestrator/internal/paramset"
	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
	"github.com/nerrad567/gray-logic-orchestrator/internal/quality"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type fakeScope struct {
	state    protocol.State
	params   paramset.Set
	trigger  lifecycle.Trigger
	children []quality.Member
}

func (s fakeScope) Name() string               { return "station" }
func (s fakeScope) State() protocol.State      { return s.state }
func (s fakeScope) Params() paramset.Set       { return s.params }
func (s fakeScope) Trigger() lifecycle.Trigger { return s.trigger }
func (s fakeScope) Children() []quality.Member { return s.children }
func (s fakeScope) Logger() lifecycle.Logger   { return nopLogger{} }
func (s fakeScope) Outstanding(filter string) int {
	return quality.Outstanding(filter, s.children)
}

func dish(key string, state protocol.State, connected, pending bool) quality.Member {
	return quality.Member{Key: key, Type: "dish", State: state, Connected: connected, Pending: pending}
}

var toClaimed = lifecycle.Transition{Next: protocol.StateClaimed, Result: protocol.NoError}

func TestQuorum_Claiming(t *testing.T) {
	claimed, idle := protocol.StateClaimed, protocol.StateIdle

	tests := []struct {
		name     string
		required string
		trigger  lifecycle.Trigger
		children []quality.Member
		proposal lifecycle.Transition
		want     lifecycle.Transition
	}{
		{
			name:     "leaf accepts on entry",
			trigger:  lifecycle.TriggerEntry,
			proposal: toClaimed,
			want:     toClaimed,
		},
		{
			name:     "entry waits for children",
			trigger:  lifecycle.TriggerEntry,
			children: []quality.Member{dish("a", idle, true, true)},
			proposal: toClaimed,
			want:     lifecycle.Stay(protocol.StateClaiming),
		},
		{
			name:     "half is enough at 50",
			required: "50",
			trigger:  lifecycle.TriggerReport,
			children: []quality.Member{dish("a", claimed, true, false), dish("b", idle, false, true)},
			proposal: toClaimed,
			want:     toClaimed,
		},
		{
			name:     "half is not enough at 100 with nobody left",
			trigger:  lifecycle.TriggerReport,
			children: []quality.Member{dish("a", claimed, true, false), dish("b", idle, false, true)},
			proposal: toClaimed,
			want:     lifecycle.Transition{Next: protocol.StateIdle, Result: protocol.LowQuality},
		},
		{
			name:     "keeps waiting while a connected child is outstanding",
			trigger:  lifecycle.TriggerReport,
			children: []quality.Member{dish("a", claimed, true, false), dish("b", idle, true, true)},
			proposal: toClaimed,
			want:     lifecycle.Stay(protocol.StateClaiming),
		},
		{
			name:     "timeout with quorum proceeds",
			required: "50",
			trigger:  lifecycle.TriggerTimeout,
			children: []quality.Member{dish("a", claimed, true, false), dish("b", idle, true, true)},
			proposal: lifecycle.Transition{Next: protocol.StateIdle, Result: protocol.Timeout},
			want:     toClaimed,
		},
		{
			name:     "timeout without quorum falls back",
			trigger:  lifecycle.TriggerTimeout,
			children: []quality.Member{dish("a", idle, true, true)},
			proposal: lifecycle.Transition{Next: protocol.StateIdle, Result: protocol.Timeout},
			want:     lifecycle.Transition{Next: protocol.StateIdle, Result: protocol.Timeout},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := fakeScope{
				state:    protocol.StateClaiming,
				params:   paramset.Set{KeyRequired: tt.required},
				trigger:  tt.trigger,
				children: tt.children,
			}
			assert.Equal(t, tt.want, Quorum{}.Claiming(s, tt.proposal))
		})
	}
}

func TestQuorum_TypeFilter(t *testing.T) {
	s := fakeScope{
		state:   protocol.StatePreparing,
		params:  paramset.Set{KeyType: "dish"},
		trigger: lifecycle.TriggerReport,
		children: []quality.Member{
			dish("a", protocol.StateSuspended, true, false),
			{Key: "bf", Type: "beamformer", State: protocol.StateClaimed, Connected: true, Pending: true},
		},
	}
	proposal := lifecycle.Transition{Next: protocol.StateSuspended}

	assert.Equal(t, proposal, Quorum{}.Preparing(s, proposal))
}

func TestQuorum_PreparingFallsBackToClaimed(t *testing.T) {
	s := fakeScope{
		state:    protocol.StatePreparing,
		trigger:  lifecycle.TriggerReport,
		children: []quality.Member{dish("a", protocol.StateClaimed, true, false)},
	}

	got := Quorum{}.Preparing(s, lifecycle.Transition{Next: protocol.StateSuspended})
	assert.Equal(t, lifecycle.Transition{Next: protocol.StateClaimed, Result: protocol.LowQuality}, got)
}

func TestQuorum_InvalidRequiredMeansAll(t *testing.T) {
	s := fakeScope{
		state:    protocol.StateClaiming,
		params:   paramset.Set{KeyRequired: "lots"},
		trigger:  lifecycle.TriggerReport,
		children: []quality.Member{dish("a", protocol.StateClaimed, true, false), dish("b", protocol.StateIdle, true, true)},
	}

	assert.Equal(t, lifecycle.Stay(protocol.StateClaiming), Quorum{}.Claiming(s, toClaimed))
}

func TestQuorum_Releasing(t *testing.T) {
	down := lifecycle.Transition{Next: protocol.StateGoingDown}
	active := dish("a", protocol.StateActive, true, true)
	released := dish("a", protocol.StateIdle, true, false)

	base := fakeScope{state: protocol.StateReleasing, trigger: lifecycle.TriggerReport}

	assert.Equal(t, down, Quorum{}.Releasing(base, down), "no children")

	withActive := base
	withActive.children = []quality.Member{active}
	assert.Equal(t, lifecycle.Stay(protocol.StateReleasing), Quorum{}.Releasing(withActive, down))

	withReleased := base
	withReleased.children = []quality.Member{released}
	assert.Equal(t, down, Quorum{}.Releasing(withReleased, down))

	timedOut := withActive
	timedOut.trigger = lifecycle.TriggerTimeout
	assert.Equal(t, down, Quorum{}.Releasing(timedOut, down))
}

func TestQuorum_ReleasingWaitsForPendingIdleChild(t *testing.T) {
	down := lifecycle.Transition{Next: protocol.StateGoingDown}
	s := fakeScope{
		state:   protocol.StateReleasing,
		trigger: lifecycle.TriggerEntry,
		children: []quality.Member{
			// Recorded IDLE but not yet answered the RELEASE.
			dish("a", protocol.StateIdle, true, true),
			dish("b", protocol.StateIdle, false, true),
		},
	}
	assert.Equal(t, lifecycle.Stay(protocol.StateReleasing), Quorum{}.Releasing(s, down))

	s.children[0].Pending = false
	s.trigger = lifecycle.TriggerReport
	assert.Equal(t, down, Quorum{}.Releasing(s, down), "a disconnected child is not waited for")

	s.children[0].Pending = true
	s.trigger = lifecycle.TriggerTimeout
	assert.Equal(t, down, Quorum{}.Releasing(s, down))
}

func TestByName(t *testing.T) {
	p, err := ByName("")
	require.NoError(t, err)
	assert.IsType(t, Quorum{}, p)

	p, err = ByName("passive")
	require.NoError(t, err)
	assert.IsType(t, Passive{}, p)

	_, err = ByName("dictator")
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}
