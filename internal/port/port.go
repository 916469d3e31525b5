// Package port provides named, connection-oriented message channels between
// devices.
//
// A device listens on its own name and dials its parents by name. Every
// notification (listener opened, connection accepted, dial completed,
// disconnect, inbound message) is delivered to the owner's Handler as an
// Event so it can be serialised onto the owner's event loop.
//
// Sending is best effort: Send returns the number of bytes handed to the
// transport. Zero bytes with a nil error means the peer is currently
// unreachable and the caller should buffer; a non-nil error means the
// message itself could not be sent.
//
// Two transports are provided: Hub (in-process) and MQTTTransport (across
// processes via the broker).
package port

import (
	"errors"

	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
)

// Transport errors.
var (
	// ErrNoListener is reported when dialling a name nobody listens on.
	ErrNoListener = errors.New("port: no listener for peer")

	// ErrAddressInUse is returned when a second listener claims a name.
	ErrAddressInUse = errors.New("port: name already has a listener")

	// ErrDialTimeout is reported when a remote listener never accepts.
	ErrDialTimeout = errors.New("port: dial timed out")

	// ErrRejected is reported when the remote side refused the connection.
	ErrRejected = errors.New("port: connection rejected")
)

// Sender delivers events to one peer.
type Sender interface {
	// Name identifies the peer. Senders with equal names share ordering.
	Name() string

	// Send hands ev to the transport and returns the bytes written.
	Send(ev protocol.Event) (int, error)
}

// Conn is one end of an established connection.
type Conn interface {
	Sender

	// ID is unique for the lifetime of the transport.
	ID() string

	// Close tears the connection down. The peer receives Disconnected.
	Close() error
}

// Listener is an open listening endpoint.
type Listener interface {
	Name() string
	Close() error
}

// Transport opens listeners and dials peers.
type Transport interface {
	// Listen opens a listening endpoint. h receives Opened, Accepted,
	// Data and Disconnected events for the endpoint and its connections.
	Listen(name string, h Handler) (Listener, error)

	// Dial connects from to the listener named to. It never blocks: the
	// outcome arrives at h as Connected or Disconnected.
	Dial(from, to string, h Handler)
}

// EventKind classifies a port notification.
type EventKind int

// Port notification kinds.
const (
	Opened EventKind = iota + 1
	Closed
	Accepted
	Connected
	Disconnected
	Data
)

var eventKindNames = map[EventKind]string{
	Opened:       "opened",
	Closed:       "closed",
	Accepted:     "accepted",
	Connected:    "connected",
	Disconnected: "disconnected",
	Data:         "data",
}

func (k EventKind) String() string {
	if n, ok := eventKindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Event is a notification from a transport.
type Event struct {
	Kind EventKind

	// Conn is the affected connection. It is nil for Opened, Closed and
	// for a Disconnected that reports a failed dial.
	Conn Conn

	// Peer names the remote side when known.
	Peer string

	// Message is set for Data events.
	Message protocol.Event

	// Err explains a Disconnected event.
	Err error
}

// Handler receives port notifications. Transports may call it from any
// goroutine and it must not block.
type Handler func(Event)

// Outcome tells a handler chain whether an event was consumed.
type Outcome int

// Handler chain outcomes.
const (
	NotHandled Outcome = iota
	Handled
)

// Link is one handler in a chain.
type Link func(Event) Outcome

// Chain offers an event to each link in turn until one handles it.
type Chain []Link

// Handle dispatches ev along the chain.
func (c Chain) Handle(ev Event) Outcome {
	for _, link := range c {
		if link(ev) == Handled {
			return Handled
		}
	}
	return NotHandled
}
