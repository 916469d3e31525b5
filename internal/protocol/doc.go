// Package protocol defines the wire vocabulary shared by every orchestrator
// device: lifecycle states, peer event kinds, result codes, the JSON event
// codec and the textual command syntax.
//
// # Peer Events
//
// Devices only ever talk to each other through Event values. Requests flow
// down the tree (SCHEDULE, CANCELSCHEDULE, CLAIM, PREPARE, RESUME, SUSPEND,
// RELEASE) and reports flow up (SCHEDULED, CLAIMED, PREPARED, ...). The
// CONNECT/CONNECTED pair is the handshake a child performs after dialling
// its parent's listening port.
//
// # Command Text
//
// Operators and the HTTP command sink submit commands as text:
//
//	SCHEDULE observation-42
//	CLAIM
//	RELEASE
//
// ParseCommand validates the name and argument count before anything reaches
// a device, so malformed input never changes lifecycle state.
//
// # Wire Format
//
// Encode and Decode use JSON with string-valued enums:
//
//	{"id":"6f1c...","kind":"CLAIMED","result":"LowQuality"}
//
// Decoding rejects unknown kinds and results at the boundary.
package protocol
