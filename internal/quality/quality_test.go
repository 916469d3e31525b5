package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
)

func members(states ...protocol.State) []Member {
	out := make([]Member, len(states))
	for i, s := range states {
		out[i] = Member{Key: string(rune('a' + i)), Type: "dish", State: s}
	}
	return out
}

func TestInState(t *testing.T) {
	claimed, idle := protocol.StateClaimed, protocol.StateIdle

	tests := []struct {
		name     string
		required int
		filter   string
		members  []Member
		want     bool
	}{
		{"half of two at 50", 50, AnyType, members(claimed, idle), true},
		{"half of two at 100", 100, AnyType, members(claimed, idle), false},
		{"all at 100", 100, "", members(claimed, claimed), true},
		{"one of three at 34", 34, "dish", members(claimed, idle, idle), false},
		{"one of three at 33", 33, "dish", members(claimed, idle, idle), true},
		{"zero percent still needs members", 0, AnyType, nil, false},
		{"filter excludes everyone", 0, "beamformer", members(claimed), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InState(tt.required, tt.filter, claimed, tt.members))
		})
	}
}

func TestInState_TypeFilter(t *testing.T) {
	ms := []Member{
		{Key: "d1", Type: "dish", State: protocol.StateClaimed},
		{Key: "d2", Type: "dish", State: protocol.StateClaimed},
		{Key: "bf", Type: "beamformer", State: protocol.StateIdle},
	}

	assert.True(t, InState(100, "dish", protocol.StateClaimed, ms))
	assert.False(t, InState(100, AnyType, protocol.StateClaimed, ms))
	assert.True(t, InState(100, "beamformer", protocol.StateIdle, ms))
	assert.Len(t, Filter("dish", ms), 2)
	assert.Len(t, Filter("", ms), 3)
}

func TestInStateAndNotInStateAreComplements(t *testing.T) {
	all := []protocol.State{
		protocol.StateIdle, protocol.StateClaimed, protocol.StateClaimed,
		protocol.StateSuspended, protocol.StateIdle,
	}

	for n := 1; n <= len(all); n++ {
		ms := members(all[:n]...)
		for _, target := range []protocol.State{protocol.StateIdle, protocol.StateClaimed, protocol.StateActive} {
			in, total := Percent(AnyType, ms, func(m Member) bool { return m.State == target })
			out, _ := Percent(AnyType, ms, func(m Member) bool { return m.State != target })
			assert.Equal(t, n, total)
			// Integer division can lose at most one point on each side.
			assert.InDelta(t, 100, in+out, 1, "n=%d target=%s", n, target)

			// At a threshold of 100 exactly one of them holds unless the
			// population is mixed, in which case neither does.
			bothFull := InState(100, AnyType, target, ms) && NotInState(100, AnyType, target, ms)
			assert.False(t, bothFull)
		}
	}

	assert.False(t, NotInState(0, AnyType, protocol.StateIdle, nil))
}

func TestInState_MonotonicInMatchingChildren(t *testing.T) {
	ms := members(protocol.StateIdle, protocol.StateIdle, protocol.StateIdle, protocol.StateIdle)

	for required := 0; required <= 100; required += 5 {
		prev := false
		cur := append([]Member(nil), ms...)
		for i := range cur {
			cur[i].State = protocol.StateClaimed
			now := InState(required, AnyType, protocol.StateClaimed, cur)
			assert.False(t, prev && !now, "required=%d flipped back at %d", required, i)
			prev = now
		}
		assert.True(t, prev, "all claimed must satisfy required=%d", required)
	}
}

type fixedPopulation []Member

func (p fixedPopulation) Members() []Member { return p }

func TestAggregator(t *testing.T) {
	pop := fixedPopulation{
		{Key: "a", Type: "dish", State: protocol.StateClaimed, Connected: true},
		{Key: "b", Type: "dish", State: protocol.StateIdle, Connected: true, Pending: true},
		{Key: "c", Type: "dish", State: protocol.StateIdle, Pending: true},
		{Key: "d", Type: "beamformer", State: protocol.StateIdle, Connected: true, Pending: true},
	}
	agg := NewAggregator(pop)

	assert.True(t, agg.InState(25, AnyType, protocol.StateClaimed))
	assert.True(t, agg.NotInState(66, "dish", protocol.StateClaimed))
	assert.Equal(t, 1, agg.Outstanding("dish"))
	assert.Equal(t, 2, agg.Outstanding(AnyType))
}
