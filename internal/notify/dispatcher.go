package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redactai/redactai/internal/redact"
	"github.com/redactai/redactai/internal/telemetry"
)

// ErrDropped is returned when the queue is full or the dispatcher is closed.
var ErrDropped = errors.New("notification dropped")

// Sink consumes incidents (file, webhook, smtp, log).
type Sink interface {
	Name() string
	Deliver(context.Context, *Incident) error
	Close(context.Context) error
}

// Metrics holds counters for incident delivery.
type Metrics struct {
	enqueued uint64
	dropped  uint64

	sinkSuccess map[string]uint64
	sinkFailure map[string]uint64
}

// Snapshot copies the counters for observation/testing.
func (m *Metrics) Snapshot() Metrics {
	if m == nil {
		return Metrics{}
	}
	out := Metrics{
		enqueued:    m.enqueued,
		dropped:     m.dropped,
		sinkSuccess: make(map[string]uint64, len(m.sinkSuccess)),
		sinkFailure: make(map[string]uint64, len(m.sinkFailure)),
	}
	for k, v := range m.sinkSuccess {
		out.sinkSuccess[k] = v
	}
	for k, v := range m.sinkFailure {
		out.sinkFailure[k] = v
	}
	return out
}

// Accessors take a value so they work directly on a Snapshot result.
func (m Metrics) Enqueued() uint64               { return m.enqueued }
func (m Metrics) Dropped() uint64                { return m.dropped }
func (m Metrics) SinkSuccess(name string) uint64 { return m.sinkSuccess[name] }
func (m Metrics) SinkFailure(name string) uint64 { return m.sinkFailure[name] }

// DispatcherConfig controls worker and queue sizing.
type DispatcherConfig struct {
	QueueSize       int
	Workers         int
	ShutdownTimeout time.Duration
	// DeliveryTimeout bounds one sink delivery.
	DeliveryTimeout time.Duration
	Telemetry       *telemetry.Provider
}

// Dispatcher queues incidents and delivers them to every sink in the
// background. Delivery failures are logged and counted, never retried
// beyond what a sink does itself.
type Dispatcher struct {
	queue           chan *Incident
	sinks           []Sink
	metrics         *Metrics
	shutdownTimeout time.Duration
	deliveryTimeout time.Duration
	tel             *telemetry.Provider

	mu        sync.RWMutex
	metricsMu sync.Mutex
	closed    bool
	wg        sync.WaitGroup
}

// NewDispatcher starts background workers delivering to sinks.
func NewDispatcher(cfg DispatcherConfig, sinks []Sink) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	workerCount := cfg.Workers
	if workerCount <= 0 {
		workerCount = 1
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	deliveryTimeout := cfg.DeliveryTimeout
	if deliveryTimeout <= 0 {
		deliveryTimeout = 30 * time.Second
	}

	m := &Metrics{
		sinkSuccess: make(map[string]uint64, len(sinks)),
		sinkFailure: make(map[string]uint64, len(sinks)),
	}
	for _, s := range sinks {
		m.sinkSuccess[s.Name()] = 0
		m.sinkFailure[s.Name()] = 0
	}

	d := &Dispatcher{
		queue:           make(chan *Incident, queueSize),
		sinks:           sinks,
		metrics:         m,
		shutdownTimeout: shutdownTimeout,
		deliveryTimeout: deliveryTimeout,
		tel:             cfg.Telemetry,
	}
	for i := 0; i < workerCount; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Notify enqueues without blocking the request path.
func (d *Dispatcher) Notify(ctx context.Context, inc *Incident) error {
	if d == nil || inc == nil {
		return ErrDropped
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ctx)
		return ErrDropped
	}
	select {
	case d.queue <- inc:
		d.metricsMu.Lock()
		d.metrics.enqueued++
		d.metricsMu.Unlock()
		return nil
	default:
		d.drop(ctx)
		return ErrDropped
	}
}

func (d *Dispatcher) drop(ctx context.Context) {
	d.metricsMu.Lock()
	d.metrics.dropped++
	d.metricsMu.Unlock()
	d.tel.RecordNotification(ctx, "queue", "dropped")
}

// Close stops accepting incidents and waits briefly to drain the queue.
func (d *Dispatcher) Close(ctx context.Context) {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	waitCtx := ctx
	if waitCtx == nil {
		waitCtx = context.Background()
	}
	var cancel context.CancelFunc
	waitCtx, cancel = context.WithTimeout(waitCtx, d.shutdownTimeout)
	defer cancel()

	select {
	case <-done:
	case <-waitCtx.Done():
		redact.Logf("notify: shutdown timed out with undelivered incidents")
	}

	for _, s := range d.sinks {
		if err := s.Close(waitCtx); err != nil {
			redact.Logf("notify: sink %s close error: %v", s.Name(), err)
		}
	}
}

// MetricsSnapshot safely copies current counters.
func (d *Dispatcher) MetricsSnapshot() Metrics {
	if d == nil || d.metrics == nil {
		return Metrics{}
	}
	d.metricsMu.Lock()
	defer d.metricsMu.Unlock()
	return d.metrics.Snapshot()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for inc := range d.queue {
		d.deliver(inc)
	}
}

func (d *Dispatcher) deliver(inc *Incident) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.deliveryTimeout)
		err := s.Deliver(ctx, inc)
		cancel()
		if err != nil {
			redact.Logf("notify: sink %s failed for record %s: %v", s.Name(), inc.RecordID, err)
			d.metricsMu.Lock()
			d.metrics.sinkFailure[s.Name()]++
			d.metricsMu.Unlock()
			d.tel.RecordNotification(context.Background(), sinkKind(s.Name()), "failed")
			continue
		}
		d.metricsMu.Lock()
		d.metrics.sinkSuccess[s.Name()]++
		d.metricsMu.Unlock()
		d.tel.RecordNotification(context.Background(), sinkKind(s.Name()), "delivered")
	}
}

// sinkKind strips the destination from a sink name so metric labels stay
// low-cardinality and free of addresses.
func sinkKind(name string) string {
	kind, _, _ := strings.Cut(name, ":")
	return kind
}
