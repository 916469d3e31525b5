// Package policy provides the stock lifecycle policies.
//
// Quorum is the default: a waiting state moves on when a configured
// percentage of matching children has caught up, and falls back with
// LowQuality once no matching child can still make the difference.
package policy

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-orchestrator/internal/lifecycle"
	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
	"github.com/nerrad567/gray-logic-orchestrator/internal/quality"
)

// Configuration keys read by Quorum.
const (
	KeyRequired = "quality.required"
	KeyType     = "quality.type"
)

// DefaultRequired is the quorum percentage when none is configured.
const DefaultRequired = 100

// Quorum waits for a percentage of children before each transition.
type Quorum struct {
	lifecycle.BasePolicy
}

// rule returns the configured threshold and type filter.
func rule(s lifecycle.Scope) (int, string) {
	params := s.Params()
	required, err := params.Int(KeyRequired, DefaultRequired)
	if err != nil || required < 0 || required > 100 {
		s.Logger().Warn("invalid quorum, requiring every child", "value", params[KeyRequired])
		required = DefaultRequired
	}
	return required, params.String(KeyType, quality.AnyType)
}

// wait decides a CLAIMING or PREPARING evaluation.
func (Quorum) wait(s lifecycle.Scope, target protocol.State, proposal lifecycle.Transition) lifecycle.Transition {
	children := s.Children()
	required, filter := rule(s)

	if len(quality.Filter(filter, children)) == 0 {
		return proposal
	}
	met := quality.InState(required, filter, target, children)

	switch {
	case s.Trigger() == lifecycle.TriggerTimeout:
		if met {
			return lifecycle.Transition{Next: target, Result: protocol.NoError}
		}
		return proposal
	case met:
		return lifecycle.Transition{Next: target, Result: protocol.NoError}
	case s.Trigger() == lifecycle.TriggerEntry:
		return lifecycle.Stay(s.State())
	case s.Outstanding(filter) == 0:
		s.Logger().Warn("quorum not reached",
			"state", s.State(),
			"target", target,
			"required", fmt.Sprintf("%d%%", required),
			"type", filter,
		)
		return lifecycle.Transition{Next: lifecycle.Fallback(s.State(), false), Result: protocol.LowQuality}
	}
	return lifecycle.Stay(s.State())
}

// Claiming moves to CLAIMED when enough children are claimed.
func (q Quorum) Claiming(s lifecycle.Scope, p lifecycle.Transition) lifecycle.Transition {
	return q.wait(s, protocol.StateClaimed, p)
}

// Preparing moves to SUSPENDED when enough children are prepared.
func (q Quorum) Preparing(s lifecycle.Scope, p lifecycle.Transition) lifecycle.Transition {
	return q.wait(s, protocol.StateSuspended, p)
}

// Releasing waits for every child to be released, or for the timeout. A
// connected child that still owes a report holds the release even if its
// last recorded state is IDLE.
func (Quorum) Releasing(s lifecycle.Scope, p lifecycle.Transition) lifecycle.Transition {
	if s.Trigger() == lifecycle.TriggerTimeout {
		return p
	}
	if s.Outstanding(quality.AnyType) > 0 {
		return lifecycle.Stay(s.State())
	}
	children := s.Children()
	if len(children) == 0 || quality.InState(100, quality.AnyType, protocol.StateIdle, children) {
		return p
	}
	return lifecycle.Stay(s.State())
}

// Passive accepts every proposal without looking at children.
type Passive struct {
	lifecycle.BasePolicy
}

// ErrUnknownPolicy is returned by ByName.
var ErrUnknownPolicy = errors.New("policy: unknown policy")

// ByName returns the policy registered under name. The empty name selects
// Quorum.
func ByName(name string) (lifecycle.Policy, error) {
	switch name {
	case "", "quorum":
		return Quorum{}, nil
	case "passive":
		return Passive{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}
