package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Kind identifies a peer protocol event.
type Kind int

// Peer event kinds. Requests and their replies are adjacent.
const (
	KindUnknown Kind = iota
	KindConnect
	KindConnected
	KindSchedule
	KindScheduled
	KindCancelSchedule
	KindScheduleCancelled
	KindClaim
	KindClaimed
	KindPrepare
	KindPrepared
	KindResume
	KindResumed
	KindSuspend
	KindSuspended
	KindRelease
	KindReleased
)

var kindNames = [...]string{
	KindUnknown:           "UNKNOWN",
	KindConnect:           "CONNECT",
	KindConnected:         "CONNECTED",
	KindSchedule:          "SCHEDULE",
	KindScheduled:         "SCHEDULED",
	KindCancelSchedule:    "CANCELSCHEDULE",
	KindScheduleCancelled: "SCHEDULECANCELLED",
	KindClaim:             "CLAIM",
	KindClaimed:           "CLAIMED",
	KindPrepare:           "PREPARE",
	KindPrepared:          "PREPARED",
	KindResume:            "RESUME",
	KindResumed:           "RESUMED",
	KindSuspend:           "SUSPEND",
	KindSuspended:         "SUSPENDED",
	KindRelease:           "RELEASE",
	KindReleased:          "RELEASED",
}

// String returns the upper-case wire name of the kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Valid reports whether k is one of the peer protocol kinds.
func (k Kind) Valid() bool {
	return k > KindUnknown && int(k) < len(kindNames)
}

// IsRequest reports whether k is sent from a parent (or operator) to a device.
// CONNECT is a request in the other direction and is not included.
func (k Kind) IsRequest() bool {
	switch k {
	case KindSchedule, KindCancelSchedule, KindClaim, KindPrepare,
		KindResume, KindSuspend, KindRelease:
		return true
	}
	return false
}

// IsReport reports whether k is a lifecycle state report sent from a child
// to its parents.
func (k Kind) IsReport() bool {
	switch k {
	case KindClaimed, KindPrepared, KindResumed, KindSuspended, KindReleased:
		return true
	}
	return false
}

// Reply returns the reply kind for a request kind, or KindUnknown.
func (k Kind) Reply() Kind {
	switch k {
	case KindConnect, KindSchedule, KindCancelSchedule, KindClaim,
		KindPrepare, KindResume, KindSuspend, KindRelease:
		return k + 1
	}
	return KindUnknown
}

// ParseKind converts a wire name into a Kind.
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if i != int(KindUnknown) && n == name {
			return Kind(i), nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Event is a single peer protocol message.
//
// Only the fields relevant to the kind are populated: NodeID for CONNECT,
// ConfigRef for SCHEDULE and Result for every reply or report.
type Event struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	NodeID    string `json:"node_id,omitempty"`
	ConfigRef string `json:"config_ref,omitempty"`
	Result    Result `json:"result"`
}

// NewEvent returns an event of the given kind with a fresh identifier.
func NewEvent(kind Kind) Event {
	return Event{ID: uuid.NewString(), Kind: kind}
}

// Connect builds the CONNECT handshake event for a child node.
func Connect(nodeID string) Event {
	ev := NewEvent(KindConnect)
	ev.NodeID = nodeID
	return ev
}

// Schedule builds a SCHEDULE request naming a configuration blob.
func Schedule(configRef string) Event {
	ev := NewEvent(KindSchedule)
	ev.ConfigRef = configRef
	return ev
}

// Report builds a reply or state report carrying a result.
func Report(kind Kind, result Result) Event {
	ev := NewEvent(kind)
	ev.Result = result
	return ev
}

// Encode serialises an event for transport.
func Encode(ev Event) ([]byte, error) {
	if !ev.Kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(ev.Kind))
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", ev.Kind, err)
	}
	return data, nil
}

// Decode parses a transport payload into an event. Payloads with unknown
// kinds or results, or without a kind, are rejected.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if !ev.Kind.Valid() {
		return Event{}, fmt.Errorf("%w: missing kind", ErrMalformedEvent)
	}
	return ev, nil
}
