package protocol

import "errors"

// Decoding errors. Use errors.Is() to check for these in calling code.
var (
	// ErrMalformedEvent is returned when an event payload is not valid JSON
	// or is missing required fields.
	ErrMalformedEvent = errors.New("protocol: malformed event")

	// ErrUnknownKind is returned for an event kind name that is not part of
	// the peer protocol.
	ErrUnknownKind = errors.New("protocol: unknown event kind")

	// ErrUnknownResult is returned for a result name that is not recognised.
	ErrUnknownResult = errors.New("protocol: unknown result")

	// ErrUnknownState is returned for a lifecycle state name that is not recognised.
	ErrUnknownState = errors.New("protocol: unknown state")
)
