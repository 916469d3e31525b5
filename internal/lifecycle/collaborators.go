package lifecycle

import (
	"context"

	"github.com/nerrad567/gray-logic-orchestrator/internal/paramset"
)

// Logger is the logging interface used by devices and handed to policies.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sink receives state and schedule changes. Publish must not block.
type Sink interface {
	Publish(device, name string, value any)
}

type noopSink struct{}

func (noopSink) Publish(string, string, any) {}

// ConfigSource fetches configuration blobs named by SCHEDULE requests.
type ConfigSource interface {
	Get(ctx context.Context, ref string) (paramset.Set, error)
}

// ChildSpec describes a child that must be running with a configuration.
type ChildSpec struct {
	Name   string
	Host   string
	Ref    string
	Params paramset.Set
}

// Distributor delivers child configurations and gets the children started.
// Distribute must return promptly; the work happens in the background and
// done is called, from any goroutine, once the child can be scheduled.
type Distributor interface {
	Distribute(parent string, spec ChildSpec, done func(err error))
}

// Supervisor owns device instances. Destroy must not wait for the device
// to stop: it is called from the device's own loop.
type Supervisor interface {
	Destroy(name string)
}
