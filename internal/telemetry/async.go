package telemetry

import (
	"context"
	"sync"

	"k8s.io/utils/clock"
)

// DefaultQueueSize is the Async buffer when none is given.
const DefaultQueueSize = 1024

// Writer persists one record. It may block.
type Writer interface {
	Write(ctx context.Context, r Record) error
}

// Async queues records for a blocking Writer and drains them on its own
// goroutine. When the queue is full new records are dropped and counted.
//
// Thread Safety:
//   - Publish is safe for concurrent use and never blocks.
type Async struct {
	name   string
	writer Writer
	clock  clock.PassiveClock
	logger Logger
	queue  chan Record

	mu     sync.RWMutex
	closed bool
}

// NewAsync creates a queue in front of writer. name labels the metrics.
func NewAsync(name string, writer Writer, size int, clk clock.PassiveClock, logger Logger) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Async{
		name:   name,
		writer: writer,
		clock:  clk,
		logger: logger,
		queue:  make(chan Record, size),
	}
}

// Publish implements lifecycle.Sink.
func (a *Async) Publish(device, name string, value any) {
	r := Record{Device: device, Property: name, Value: value, At: a.clock.Now()}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		droppedTotal.WithLabelValues(a.name).Inc()
		return
	}
	select {
	case a.queue <- r:
	default:
		droppedTotal.WithLabelValues(a.name).Inc()
	}
}

// Run writes queued records until Close is called and the queue is empty.
// Write errors are logged and counted; they never stop the loop.
func (a *Async) Run(ctx context.Context) error {
	for r := range a.queue {
		if err := a.writer.Write(ctx, r); err != nil {
			droppedTotal.WithLabelValues(a.name).Inc()
			if a.logger != nil {
				a.logger.Warn("telemetry write failed", "sink", a.name, "device", r.Device, "property", r.Property, "error", err)
			}
			continue
		}
		publishedTotal.WithLabelValues(a.name).Inc()
	}
	return nil
}

// Close stops accepting records. Run returns once the queue is drained.
func (a *Async) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	close(a.queue)
}
