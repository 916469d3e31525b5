package lifecycle

import (
	"time"

	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
)

// ChildStatus is one child as seen by its parent.
type ChildStatus struct {
	Key       string         `json:"key"`
	Type      string         `json:"type,omitempty"`
	State     protocol.State `json:"state"`
	Connected bool           `json:"connected"`
}

// ScheduleStatus holds the most recently armed schedule instants.
type ScheduleStatus struct {
	Claim   *time.Time `json:"claim,omitempty"`
	Prepare *time.Time `json:"prepare,omitempty"`
	Start   *time.Time `json:"start,omitempty"`
	Stop    *time.Time `json:"stop,omitempty"`
}

// Status is a point-in-time snapshot of a device.
type Status struct {
	Name          string         `json:"name"`
	State         protocol.State `json:"state"`
	Finishing     bool           `json:"finishing"`
	Parents       []string       `json:"parents"`
	Children      []ChildStatus  `json:"children"`
	PendingEvents int            `json:"pending_events"`
	Schedule      ScheduleStatus `json:"schedule"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
