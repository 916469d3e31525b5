// Package dispatch delivers protocol events to peers with buffering and
// periodic retry.
//
// A send that the transport reports as zero bytes (peer unreachable) is
// buffered and retried every retry period, oldest first. Events to one peer
// are never overtaken: once a peer has buffered entries, later sends to it
// join the back of the buffer and only the front entry of each peer is
// attempted. An entry's age is measured from when it reaches the front of
// its peer's queue, so every entry gets retry timeout / retry period
// attempts of its own before it is dropped and reported as a delivery
// failure.
package dispatch

import (
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-orchestrator/internal/port"
	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
	"github.com/nerrad567/gray-logic-orchestrator/internal/timer"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultRetryPeriod  = 10 * time.Second
	DefaultRetryTimeout = time.Hour
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("dispatch: dispatcher closed")

// Config tunes retry behaviour.
type Config struct {
	RetryPeriod  time.Duration
	RetryTimeout time.Duration
}

// Timers is the subset of the timer service the dispatcher needs.
type Timers interface {
	Now() time.Time
	After(d time.Duration, fn func()) timer.ID
	Cancel(id timer.ID) bool
}

// Logger is the logging interface used by the dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ExpireFunc is told about every event dropped after the retry timeout.
type ExpireFunc func(peer string, ev protocol.Event)

type entry struct {
	to       port.Sender
	ev       protocol.Event
	enqueued time.Time
	head     time.Time // zero until the entry is first at the front of its peer's queue
	attempts int
}

// Dispatcher buffers and retries sends for one device.
//
// Thread Safety:
//   - Not safe for concurrent use. Every method, and the retry timer
//     callback, runs on the owning device's event loop.
type Dispatcher struct {
	device   string
	cfg      Config
	timers   Timers
	logger   Logger
	onExpire ExpireFunc
	metrics  metrics

	buffer  []entry
	retryID timer.ID
	closed  bool
}

// New creates a dispatcher for device.
//
// Parameters:
//   - device: Owner name, used as the metrics label and in logs
//   - cfg: Retry period and timeout (zero fields take the defaults)
//   - timers: Timer service whose callbacks run on the owner's loop
//
// Returns:
//   - *Dispatcher: Dispatcher with an empty buffer
func New(device string, cfg Config, timers Timers) *Dispatcher {
	if cfg.RetryPeriod <= 0 {
		cfg.RetryPeriod = DefaultRetryPeriod
	}
	if cfg.RetryTimeout <= 0 {
		cfg.RetryTimeout = DefaultRetryTimeout
	}
	return &Dispatcher{
		device:  device,
		cfg:     cfg,
		timers:  timers,
		logger:  noopLogger{},
		metrics: newMetrics(device),
	}
}

// SetLogger sets the logger. A nil logger silences output.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.logger = logger
}

// OnExpire registers a callback for events dropped after the retry timeout.
func (d *Dispatcher) OnExpire(fn ExpireFunc) {
	d.onExpire = fn
}

// Send delivers ev to the peer or buffers it.
//
// Returns:
//   - error: The transport's error, unbuffered, or ErrClosed. A nil error
//     means the event was either delivered or buffered for retry.
func (d *Dispatcher) Send(to port.Sender, ev protocol.Event) error {
	if d.closed {
		return ErrClosed
	}

	if d.hasBuffered(to.Name()) {
		d.enqueue(to, ev)
		return nil
	}

	n, err := to.Send(ev)
	if err != nil {
		return err
	}
	if n == 0 {
		d.enqueue(to, ev)
	}
	return nil
}

func (d *Dispatcher) hasBuffered(peer string) bool {
	for _, e := range d.buffer {
		if e.to.Name() == peer {
			return true
		}
	}
	return false
}

func (d *Dispatcher) enqueue(to port.Sender, ev protocol.Event) {
	now := d.timers.Now()
	e := entry{to: to, ev: ev, enqueued: now}
	if !d.hasBuffered(to.Name()) {
		e.head = now
	}
	d.buffer = append(d.buffer, e)
	d.metrics.pending.Set(float64(len(d.buffer)))
	d.logger.Debug("buffered event for retry", "peer", to.Name(), "kind", ev.Kind, "pending", len(d.buffer))
	d.arm()
}

func (d *Dispatcher) arm() {
	if d.retryID != 0 || len(d.buffer) == 0 || d.closed {
		return
	}
	d.retryID = d.timers.After(d.cfg.RetryPeriod, d.retry)
}

// retry walks the buffer once in enqueue order. Entries behind a peer's
// failed front entry are neither attempted nor aged.
func (d *Dispatcher) retry() {
	d.retryID = 0
	now := d.timers.Now()
	blocked := make(map[string]bool)

	kept := d.buffer[:0]
	for _, e := range d.buffer {
		peer := e.to.Name()

		if blocked[peer] {
			kept = append(kept, e)
			continue
		}
		if e.head.IsZero() {
			e.head = now
		}
		if now.Sub(e.head) > d.cfg.RetryTimeout {
			d.expire(e, now)
			continue
		}

		e.attempts++
		d.metrics.retries.Inc()
		n, err := e.to.Send(e.ev)
		switch {
		case err != nil:
			d.logger.Warn("retry failed", "peer", peer, "kind", e.ev.Kind, "attempt", e.attempts, "error", err)
			blocked[peer] = true
			kept = append(kept, e)
		case n == 0:
			blocked[peer] = true
			kept = append(kept, e)
		default:
			d.metrics.delivered.Inc()
			d.logger.Debug("delivered buffered event", "peer", peer, "kind", e.ev.Kind, "attempts", e.attempts)
		}
	}
	// Clear the tail so dropped entries do not pin their senders.
	for i := len(kept); i < len(d.buffer); i++ {
		d.buffer[i] = entry{}
	}
	d.buffer = kept
	d.metrics.pending.Set(float64(len(d.buffer)))
	d.arm()
}

func (d *Dispatcher) expire(e entry, now time.Time) {
	d.metrics.expired.Inc()
	d.logger.Error("delivery failed: retry timeout exceeded, dropping event",
		"peer", e.to.Name(),
		"kind", e.ev.Kind,
		"event_id", e.ev.ID,
		"age", now.Sub(e.enqueued),
		"at_front", now.Sub(e.head),
		"attempts", e.attempts,
		"result", protocol.Timeout,
	)
	if d.onExpire != nil {
		d.onExpire(e.to.Name(), e.ev)
	}
}

// Pending returns the number of buffered events.
func (d *Dispatcher) Pending() int {
	return len(d.buffer)
}

// PendingFor returns the number of buffered events for one peer.
func (d *Dispatcher) PendingFor(peer string) int {
	n := 0
	for _, e := range d.buffer {
		if e.to.Name() == peer {
			n++
		}
	}
	return n
}

// Flush makes one immediate retry pass without waiting for the retry
// period. Whatever is still undeliverable stays buffered.
func (d *Dispatcher) Flush() {
	if d.closed || len(d.buffer) == 0 {
		return
	}
	d.timers.Cancel(d.retryID)
	d.retry()
}

// Close cancels the retry timer and discards the buffer.
func (d *Dispatcher) Close() {
	if d.closed {
		return
	}
	d.closed = true
	d.timers.Cancel(d.retryID)
	d.retryID = 0
	if len(d.buffer) > 0 {
		d.logger.Warn("discarding undelivered events", "pending", len(d.buffer))
	}
	d.buffer = nil
	d.metrics.pending.Set(0)
}
