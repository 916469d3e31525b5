// Package history keeps a local record of lifecycle telemetry in SQLite.
//
// Every state and schedule change a device publishes can be written as one
// row. The record is a local audit trail that survives without InfluxDB and
// backs the API's per-device history endpoint.
package history

import (
	"context"
	"errors"
	"time"
)

// List bounds.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Errors returned by the repository.
var (
	// ErrDeviceRequired is returned when an entry or query has no device.
	ErrDeviceRequired = errors.New("history: device is required")

	// ErrInvalidRetention is returned by Prune for a non-positive duration.
	ErrInvalidRetention = errors.New("history: retention must be positive")
)

// Entry is one recorded property change.
type Entry struct {
	// ID is the auto-incremented primary key.
	ID int64 `json:"id"`

	// Device is the publishing device's name.
	Device string `json:"device"`

	// Property is the published name: state, claimTime, stopTime, ...
	Property string `json:"property"`

	// Value is the published value rendered as text.
	Value string `json:"value"`

	// Host is the node the device ran on.
	Host string `json:"host,omitempty"`

	// CreatedAt is when the change was recorded (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores and retrieves lifecycle history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// Record inserts e. A zero CreatedAt is replaced with the current time.
	Record(ctx context.Context, e Entry) error

	// List returns the newest entries for device first. limit is clamped to
	// [1, MaxLimit]; zero or negative selects DefaultLimit.
	List(ctx context.Context, device string, limit int) ([]Entry, error)

	// Prune deletes entries older than olderThan and returns how many went.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
