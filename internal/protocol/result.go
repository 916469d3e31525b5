package protocol

import (
	"errors"
	"fmt"
)

// Result is the outcome code carried by replies and state reports.
type Result int

// Result codes.
const (
	NoError Result = iota
	UnknownCommand
	IncorrectParameterCount
	LowQuality
	Disabled
	Timeout
	InvalidState
	UnknownChild
	InvalidSchedule
)

var resultNames = [...]string{
	NoError:                 "NoError",
	UnknownCommand:          "UnknownCommand",
	IncorrectParameterCount: "IncorrectParameterCount",
	LowQuality:              "LowQuality",
	Disabled:                "Disabled",
	Timeout:                 "Timeout",
	InvalidState:            "InvalidState",
	UnknownChild:            "UnknownChild",
	InvalidSchedule:         "InvalidSchedule",
}

// String returns the result name.
func (r Result) String() string {
	if r < 0 || int(r) >= len(resultNames) {
		return fmt.Sprintf("Result(%d)", int(r))
	}
	return resultNames[r]
}

// OK reports whether r is NoError.
func (r Result) OK() bool {
	return r == NoError
}

// Err returns nil for NoError and an error wrapping r otherwise.
// The returned error can be unwrapped back with AsResult.
func (r Result) Err() error {
	if r == NoError {
		return nil
	}
	return resultError{result: r}
}

// AsResult extracts a Result from an error produced by Result.Err.
func AsResult(err error) (Result, bool) {
	var re resultError
	if errors.As(err, &re) {
		return re.result, true
	}
	return NoError, false
}

type resultError struct {
	result Result
}

func (e resultError) Error() string {
	return "protocol: " + e.result.String()
}

// ParseResult converts a result name into a Result.
func ParseResult(name string) (Result, error) {
	for i, n := range resultNames {
		if n == name {
			return Result(i), nil
		}
	}
	return NoError, fmt.Errorf("%w: %q", ErrUnknownResult, name)
}

// MarshalText implements encoding.TextMarshaler.
func (r Result) MarshalText() ([]byte, error) {
	if r < 0 || int(r) >= len(resultNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownResult, int(r))
	}
	return []byte(resultNames[r]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Result) UnmarshalText(text []byte) error {
	parsed, err := ParseResult(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
