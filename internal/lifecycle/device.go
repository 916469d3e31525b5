// Package lifecycle implements the device actor: a single-threaded state
// machine that claims, prepares, activates, suspends and releases a resource
// together with a tree of child devices.
//
// Every input to a device (operator commands, peer events from its ports,
// timer fires and completed configuration fetches) is a closure posted to
// the device's mailbox and run, one at a time and in arrival order, by the
// goroutine in Run. Device state is never touched anywhere else.
//
// Per-device-type behaviour is supplied as a Policy; the package itself only
// knows the generic contract: which commands are valid in which state, how
// child reports update the tree, which reports are sent to parents and when
// a device is finished.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/nerrad567/gray-logic-orchestrator/internal/dispatch"
	"github.com/nerrad567/gray-logic-orchestrator/internal/paramset"
	"github.com/nerrad567/gray-logic-orchestrator/internal/port"
	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
	"github.com/nerrad567/gray-logic-orchestrator/internal/schedule"
	"github.com/nerrad567/gray-logic-orchestrator/internal/timer"
	"github.com/nerrad567/gray-logic-orchestrator/internal/tree"
)

// Defaults for Options fields left zero.
const (
	DefaultTransitionTimeout = 60 * time.Second
	DefaultFetchTimeout      = 5 * time.Second
)

// Configuration keys read by the state machine.
const (
	KeyName     = "name"
	KeyType     = "type"
	KeyParents  = "parents"
	KeyChildren = "children"
	KeyTimeout  = "lifecycle.timeout"
)

// Errors returned by Device methods.
var (
	// ErrStopped is returned when the device loop is no longer running.
	ErrStopped = errors.New("lifecycle: device stopped")

	// ErrNoName is returned by New for an empty device name.
	ErrNoName = errors.New("lifecycle: device name is required")
)

// Options configures a device.
type Options struct {
	// Name is the device's address on the transport.
	Name string

	// Params is the configuration the device is constructed with. A
	// schedule in it that fails validation leaves the device DISABLED.
	Params paramset.Set

	Policy    Policy
	Transport port.Transport

	// Clock defaults to the real clock.
	Clock clock.WithDelayedExecution

	Sink        Sink
	Configs     ConfigSource
	Distributor Distributor
	Supervisor  Supervisor
	Logger      Logger

	Dispatch dispatch.Config

	// Backoff between parent redials.
	Backoff time.Duration

	// TransitionTimeout bounds CLAIMING, PREPARING and RELEASING unless the
	// configuration sets lifecycle.timeout.
	TransitionTimeout time.Duration

	// FetchTimeout bounds a configuration fetch for SCHEDULE.
	FetchTimeout time.Duration
}

// Device is one lifecycle actor.
//
// Thread Safety:
//   - Command, Status and Done are safe for concurrent use.
//   - Everything else runs on the loop started by Run.
type Device struct {
	name        string
	policy      Policy
	sink        Sink
	configs     ConfigSource
	distributor Distributor
	supervisor  Supervisor
	logger      Logger

	defaultTimeout time.Duration
	fetchTimeout   time.Duration

	box        *mailbox
	timers     *timer.Service
	tree       *tree.Manager
	dispatcher *dispatch.Dispatcher
	scheduler  *schedule.Scheduler

	// async runs configuration fetches off the loop.
	async func(fn func())

	// Loop-owned state.
	ctx       context.Context
	state     protocol.State
	params    paramset.Set
	sched     schedule.Schedule
	finishing bool
	trigger   Trigger
	timeoutID timer.ID
	deferred  []schedule.Slot
	exited    bool

	statusMu sync.RWMutex
	status   Status

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a device. It does not start the loop or touch the network.
//
// Parameters:
//   - opts: Device configuration; Name, Policy and Transport are required
//
// Returns:
//   - *Device: The device in INITIAL, or DISABLED if its schedule is invalid
//   - error: ErrNoName for an empty name
func New(opts Options) (*Device, error) {
	if opts.Name == "" {
		return nil, ErrNoName
	}
	if opts.Policy == nil {
		opts.Policy = BasePolicy{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Sink == nil {
		opts.Sink = noopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.TransitionTimeout <= 0 {
		opts.TransitionTimeout = DefaultTransitionTimeout
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	params := opts.Params.Clone()
	if params == nil {
		params = paramset.Set{}
	}

	d := &Device{
		name:           opts.Name,
		policy:         opts.Policy,
		sink:           opts.Sink,
		configs:        opts.Configs,
		distributor:    opts.Distributor,
		supervisor:     opts.Supervisor,
		logger:         opts.Logger,
		defaultTimeout: opts.TransitionTimeout,
		fetchTimeout:   opts.FetchTimeout,
		box:            newMailbox(),
		async:          func(fn func()) { go fn() },
		ctx:            context.Background(),
		state:          protocol.StateInitial,
		params:         params,
		done:           make(chan struct{}),
	}

	d.timers = timer.New(opts.Clock, func(fn func()) { d.box.post(fn) })
	d.tree = tree.New(tree.Config{Name: opts.Name, Backoff: opts.Backoff}, opts.Transport, d.timers, d.handlePortEvent)
	d.tree.SetLogger(opts.Logger)
	d.dispatcher = dispatch.New(opts.Name, opts.Dispatch, d.timers)
	d.dispatcher.SetLogger(opts.Logger)
	d.dispatcher.OnExpire(d.deliveryFailed)
	d.scheduler = schedule.New(d.timers, d.scheduleFired)
	d.scheduler.OnChange(d.scheduleChanged)

	sched, err := schedule.Parse(params)
	if err != nil {
		d.logger.Error("invalid schedule, device disabled", "error", err)
		d.state = protocol.StateDisabled
	}
	d.sched = sched
	d.snapshot()
	return d, nil
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.name
}

// Run processes the mailbox until ctx is cancelled or the device reaches
// GOINGDOWN.
func (d *Device) Run(ctx context.Context) error {
	defer d.markDone()

	d.ctx = ctx
	d.start()
	if d.exited {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case <-d.box.signal:
			if d.runPending() {
				return nil
			}
		}
	}
}

// runPending runs every queued closure. It reports whether the device has
// exited.
func (d *Device) runPending() bool {
	for _, fn := range d.box.take() {
		fn()
		d.afterEvent()
		if d.exited {
			return true
		}
	}
	return d.exited
}

// start opens the listener, declares the tree and arms the schedule.
func (d *Device) start() {
	d.publishState()
	if d.state == protocol.StateDisabled {
		return
	}

	if err := d.tree.Open(); err != nil {
		d.logger.Error("failed to open listener, device disabled", "error", err)
		d.state = protocol.StateDisabled
		d.publishState()
		d.snapshot()
		return
	}
	d.declareTree()
	d.scheduler.Apply(d.sched)
	d.afterEvent()
}

func (d *Device) afterEvent() {
	if d.state == protocol.StateInitial && d.tree.Ready() {
		d.enter(protocol.StateIdle, protocol.NoError)
	}
	d.snapshot()
}

func (d *Device) shutdown() {
	d.box.close()
	d.timers.CancelAll()
	d.dispatcher.Close()
	d.tree.Close()
	d.logger.Info("device stopped", "state", d.state)
}

func (d *Device) markDone() {
	d.doneOnce.Do(func() { close(d.done) })
}

// Done is closed when Run has returned.
func (d *Device) Done() <-chan struct{} {
	return d.done
}

// handlePortEvent is the transport handler. It may run on any goroutine.
func (d *Device) handlePortEvent(ev port.Event) {
	d.box.post(func() {
		port.Chain{d.tree.Handle, d.handlePeer}.Handle(ev)
	})
}

// Command parses text and runs it against the device, waiting for the
// result.
//
// Parsing errors are returned without touching the device. SCHEDULE waits
// for the configuration fetch to complete.
//
// Returns:
//   - protocol.Result: The command outcome
//   - error: ctx.Err() or ErrStopped when no result could be obtained
func (d *Device) Command(ctx context.Context, text string) (protocol.Result, error) {
	cmd, res := protocol.ParseCommand(text)
	if res != protocol.NoError {
		commandsTotal.WithLabelValues("invalid", res.String()).Inc()
		return res, nil
	}

	reply := make(chan protocol.Result, 1)
	if !d.submit(cmd, reply) {
		return protocol.NoError, ErrStopped
	}

	select {
	case r := <-reply:
		return r, nil
	case <-d.done:
		select {
		case r := <-reply:
			return r, nil
		default:
		}
		return protocol.NoError, ErrStopped
	case <-ctx.Done():
		return protocol.NoError, ctx.Err()
	}
}

func (d *Device) submit(cmd protocol.Command, reply chan<- protocol.Result) bool {
	return d.box.post(func() {
		d.execute(cmd, origin{reply: reply})
	})
}

// Status returns the latest snapshot.
func (d *Device) Status() Status {
	d.statusMu.RLock()
	defer d.statusMu.RUnlock()
	return d.status
}

// snapshot refreshes the status copy read by other goroutines.
func (d *Device) snapshot() {
	members := d.tree.Members()
	children := make([]ChildStatus, 0, len(members))
	for _, m := range members {
		children = append(children, ChildStatus{Key: m.Key, Type: m.Type, State: m.State, Connected: m.Connected})
	}
	cur := d.scheduler.Current()
	if cur.IsZero() {
		cur = d.sched
	}

	st := Status{
		Name:          d.name,
		State:         d.state,
		Finishing:     d.finishing,
		Parents:       d.tree.ParentNames(),
		Children:      children,
		PendingEvents: d.dispatcher.Pending(),
		Schedule: ScheduleStatus{
			Claim:   timePtr(cur.Claim),
			Prepare: timePtr(cur.Prepare),
			Start:   timePtr(cur.Start),
			Stop:    timePtr(cur.Stop),
		},
		UpdatedAt: d.timers.Now(),
	}

	d.statusMu.Lock()
	d.status = st
	d.statusMu.Unlock()
}
