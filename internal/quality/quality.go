// Package quality decides whether enough children have reached a state.
//
// A quorum is an integer percentage of the children that match a device
// type filter. The functions here are pure: the population is passed in,
// usually taken from the tree manager at the moment a policy evaluates.
package quality

import (
	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
)

// AnyType matches children of every type. The empty string does too.
const AnyType = "*"

// Member is the parent's view of one declared child.
type Member struct {
	Key       string
	Type      string
	State     protocol.State
	Connected bool

	// Pending is set while the parent is waiting for a report from this
	// child in response to the current command.
	Pending bool
}

// Population supplies the current set of members.
type Population interface {
	Members() []Member
}

func matches(filter, typ string) bool {
	return filter == "" || filter == AnyType || filter == typ
}

// Filter returns the members whose type matches filter.
func Filter(filter string, members []Member) []Member {
	out := make([]Member, 0, len(members))
	for _, m := range members {
		if matches(filter, m.Type) {
			out = append(out, m)
		}
	}
	return out
}

// Percent returns the integer percentage of matching members whose state
// satisfies pred, and the number of matching members.
func Percent(filter string, members []Member, pred func(Member) bool) (percent, total int) {
	hits := 0
	for _, m := range members {
		if !matches(filter, m.Type) {
			continue
		}
		total++
		if pred(m) {
			hits++
		}
	}
	if total == 0 {
		return 0, 0
	}
	return 100 * hits / total, total
}

// InState reports whether at least required percent of the members that
// match filter are in target. An empty matching set is never in state.
func InState(required int, filter string, target protocol.State, members []Member) bool {
	pct, total := Percent(filter, members, func(m Member) bool { return m.State == target })
	return total > 0 && pct >= required
}

// NotInState reports whether at least required percent of the members that
// match filter are in any state other than target. An empty matching set
// yields false.
func NotInState(required int, filter string, target protocol.State, members []Member) bool {
	pct, total := Percent(filter, members, func(m Member) bool { return m.State != target })
	return total > 0 && pct >= required
}

// Aggregator binds the quorum functions to a live population.
type Aggregator struct {
	pop Population
}

// NewAggregator returns an aggregator over pop.
func NewAggregator(pop Population) Aggregator {
	return Aggregator{pop: pop}
}

// InState evaluates InState over the current members.
func (a Aggregator) InState(required int, filter string, target protocol.State) bool {
	return InState(required, filter, target, a.pop.Members())
}

// NotInState evaluates NotInState over the current members.
func (a Aggregator) NotInState(required int, filter string, target protocol.State) bool {
	return NotInState(required, filter, target, a.pop.Members())
}

// Outstanding counts matching members that are connected and still owe a
// report for the current command.
func (a Aggregator) Outstanding(filter string) int {
	return Outstanding(filter, a.pop.Members())
}

// Outstanding counts matching members that are connected and pending.
func Outstanding(filter string, members []Member) int {
	n := 0
	for _, m := range members {
		if matches(filter, m.Type) && m.Connected && m.Pending {
			n++
		}
	}
	return n
}
