// Package registry runs the devices of one orchestrator node.
//
// The registry is the node's supervisor: it creates devices from their
// configuration blobs, runs each one on its own goroutine under an
// errgroup, and forgets them when they reach GOINGDOWN. It is also the
// local launcher that parents use to start children on this host.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/nerrad567/gray-logic-orchestrator/internal/dispatch"
	"github.com/nerrad567/gray-logic-orchestrator/internal/lifecycle"
	"github.com/nerrad567/gray-logic-orchestrator/internal/paramset"
	"github.com/nerrad567/gray-logic-orchestrator/internal/policy"
	"github.com/nerrad567/gray-logic-orchestrator/internal/port"
	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
	"github.com/nerrad567/gray-logic-orchestrator/internal/provision"
)

// KeyPolicy selects a device's policy by name (see policy.ByName).
const KeyPolicy = "policy"

var devicesRunning = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "orchestrator_registry_devices",
	Help: "Devices currently running on this node.",
})

// Logger defines the logging interface used by the Registry.
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

// Options carries everything devices on this node share.
type Options struct {
	Transport port.Transport
	Store     provision.Store
	Sink      lifecycle.Sink
	Clock     clock.WithDelayedExecution

	Dispatch          dispatch.Config
	Backoff           time.Duration
	TransitionTimeout time.Duration
	FetchTimeout      time.Duration

	Logger Logger

	// DeviceLogger returns the logger for one device. Defaults to Logger.
	DeviceLogger func(name string) lifecycle.Logger
}

// Registry owns the running devices of a node.
//
// Thread Safety:
//   - All public methods are safe for concurrent use.
type Registry struct {
	opts        Options
	logger      Logger
	distributor lifecycle.Distributor

	mu      sync.RWMutex
	devices map[string]*lifecycle.Device
	group   *errgroup.Group
	ctx     context.Context
	stopped bool
}

var (
	_ lifecycle.Supervisor = (*Registry)(nil)
	_ provision.Launcher   = (*Registry)(nil)
)

// New creates a registry. Call Start before creating devices.
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.DeviceLogger == nil {
		base := opts.Logger
		opts.DeviceLogger = func(string) lifecycle.Logger { return base }
	}
	return &Registry{
		opts:    opts,
		logger:  opts.Logger,
		devices: make(map[string]*lifecycle.Device),
	}
}

// SetDistributor sets the distributor handed to devices created from now
// on. The distributor usually launches through this registry, so it can
// only be built after New.
func (r *Registry) SetDistributor(d lifecycle.Distributor) {
	r.mu.Lock()
	r.distributor = d
	r.mu.Unlock()
}

// Start prepares the registry to run devices under ctx. Cancelling ctx
// stops every device.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.group != nil {
		return
	}
	r.group, r.ctx = errgroup.WithContext(ctx)
}

// Wait blocks until the Start context is cancelled and every device has
// stopped.
func (r *Registry) Wait() error {
	r.mu.RLock()
	g, ctx := r.group, r.ctx
	r.mu.RUnlock()
	if g == nil {
		return ErrNotStarted
	}

	<-ctx.Done()
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	return g.Wait()
}

// Create constructs a device from params and runs it.
//
// Parameters:
//   - name: Device name; overrides any name in params
//   - params: Configuration blob
//
// Returns:
//   - *lifecycle.Device: The running device
//   - error: ErrDeviceExists, ErrNotStarted, ErrStopped, an unknown policy,
//     or a construction error
func (r *Registry) Create(name string, params paramset.Set) (*lifecycle.Device, error) {
	pol, err := policy.ByName(params.String(KeyPolicy, ""))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.group == nil:
		return nil, ErrNotStarted
	case r.stopped || r.ctx.Err() != nil:
		return nil, ErrStopped
	}
	if _, exists := r.devices[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDeviceExists, name)
	}

	params = params.Clone()
	if params == nil {
		params = paramset.Set{}
	}
	params[lifecycle.KeyName] = name

	d, err := lifecycle.New(lifecycle.Options{
		Name:              name,
		Params:            params,
		Policy:            pol,
		Transport:         r.opts.Transport,
		Clock:             r.opts.Clock,
		Sink:              r.opts.Sink,
		Configs:           r.opts.Store,
		Distributor:       r.distributor,
		Supervisor:        r,
		Logger:            r.opts.DeviceLogger(name),
		Dispatch:          r.opts.Dispatch,
		Backoff:           r.opts.Backoff,
		TransitionTimeout: r.opts.TransitionTimeout,
		FetchTimeout:      r.opts.FetchTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating device %s: %w", name, err)
	}

	r.devices[name] = d
	devicesRunning.Inc()
	ctx := r.ctx
	r.group.Go(func() error {
		defer r.forget(name, d)
		return d.Run(ctx)
	})

	r.logger.Info("device started", "device", name)
	return d, nil
}

// Launch implements provision.Launcher. A device that already runs is left
// alone; its parent schedules it with the new blob.
func (r *Registry) Launch(ctx context.Context, req provision.LaunchRequest) error {
	if _, ok := r.Get(req.Name); ok {
		r.logger.Debug("launch skipped, device already running", "device", req.Name, "ref", req.Ref)
		return nil
	}
	if r.opts.Store == nil {
		return fmt.Errorf("launching %s: no configuration store", req.Name)
	}

	params, err := r.opts.Store.Get(ctx, req.Ref)
	if err != nil {
		return fmt.Errorf("fetching config for %s: %w", req.Name, err)
	}
	_, err = r.Create(req.Name, params)
	if err != nil && !errors.Is(err, ErrDeviceExists) {
		return err
	}
	return nil
}

// Destroy implements lifecycle.Supervisor. It is called from the device's
// own loop on GOINGDOWN and only drops the registry entry; the loop exits
// by itself.
func (r *Registry) Destroy(name string) {
	r.mu.Lock()
	_, ok := r.devices[name]
	delete(r.devices, name)
	r.mu.Unlock()

	if ok {
		devicesRunning.Dec()
		r.logger.Info("device destroyed", "device", name)
	}
}

// forget drops d once its loop has returned, unless the name was reused.
func (r *Registry) forget(name string, d *lifecycle.Device) {
	r.mu.Lock()
	cur, ok := r.devices[name]
	if ok && cur == d {
		delete(r.devices, name)
	}
	r.mu.Unlock()

	if ok && cur == d {
		devicesRunning.Dec()
		r.logger.Debug("device loop ended", "device", name)
	}
}

// Get returns the running device called name.
func (r *Registry) Get(name string) (*lifecycle.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[name]
	return d, ok
}

// List returns a status snapshot of every running device, sorted by name.
func (r *Registry) List() []lifecycle.Status {
	r.mu.RLock()
	out := make([]lifecycle.Status, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.Status())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of running devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Command runs command text against the named device.
//
// Returns:
//   - protocol.Result: The device's answer
//   - error: ErrDeviceNotFound, or the device's error (stopped, ctx done)
func (r *Registry) Command(ctx context.Context, name, text string) (protocol.Result, error) {
	d, ok := r.Get(name)
	if !ok {
		return protocol.NoError, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	return d.Command(ctx, text)
}
