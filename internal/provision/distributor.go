package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-orchestrator/internal/lifecycle"
)

// DefaultDistributeTimeout bounds one store write plus launch.
const DefaultDistributeTimeout = 10 * time.Second

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// DistributorOptions configures a Distributor.
type DistributorOptions struct {
	// Host is this node's name. Children without a host, or with this one,
	// are launched by Local.
	Host string

	// Local starts devices in this process.
	Local Launcher

	// Remote asks other hosts to start devices. Optional.
	Remote Launcher

	// Timeout bounds each distribution. Defaults to DefaultDistributeTimeout.
	Timeout time.Duration

	Logger Logger
}

// Distributor implements lifecycle.Distributor on a Store and Launchers.
type Distributor struct {
	store   Store
	host    string
	local   Launcher
	remote  Launcher
	timeout time.Duration
	logger  Logger

	// async runs each distribution; replaced in tests.
	async func(fn func())
}

var _ lifecycle.Distributor = (*Distributor)(nil)

// NewDistributor creates a distributor writing to store.
func NewDistributor(store Store, opts DistributorOptions) *Distributor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDistributeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Distributor{
		store:   store,
		host:    opts.Host,
		local:   opts.Local,
		remote:  opts.Remote,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		async:   func(fn func()) { go fn() },
	}
}

// Distribute stores the child's blob and launches the child in the
// background, then calls done with the outcome.
func (d *Distributor) Distribute(parent string, spec lifecycle.ChildSpec, done func(err error)) {
	d.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		err := d.distribute(ctx, spec)
		if err != nil {
			d.logger.Warn("child distribution failed", "parent", parent, "child", spec.Name, "host", spec.Host, "error", err)
		} else {
			d.logger.Debug("child distributed", "parent", parent, "child", spec.Name, "host", spec.Host, "ref", spec.Ref)
		}
		if done != nil {
			done(err)
		}
	})
}

func (d *Distributor) distribute(ctx context.Context, spec lifecycle.ChildSpec) error {
	if err := d.store.Put(ctx, spec.Ref, spec.Params); err != nil {
		return fmt.Errorf("storing config for %s: %w", spec.Name, err)
	}

	launcher := d.local
	if spec.Host != "" && spec.Host != d.host {
		launcher = d.remote
	}
	if launcher == nil {
		return fmt.Errorf("%w: %q", ErrNoRoute, spec.Host)
	}

	req := LaunchRequest{Name: spec.Name, Ref: spec.Ref, Host: spec.Host}
	if err := launcher.Launch(ctx, req); err != nil {
		return fmt.Errorf("launching %s: %w", spec.Name, err)
	}
	return nil
}
