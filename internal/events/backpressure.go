package events

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/stageflow/stageflow/internal/ports"
)

const (
	defaultQueueSize = 1024
	dequeueTimeout   = 100 * time.Millisecond
)

type queuedEvent struct {
	ctx       context.Context
	eventType string
	data      map[string]interface{}
}

// Metrics summarizes a backpressure sink's delivery counters.
type Metrics struct {
	Emitted         int64
	Dropped         int64
	QueueFullCount  int64
	LastEmitTime    time.Time
	LastDropTime    time.Time
	DropRatePercent float64
}

// BackpressureOptions configures a BackpressureSink.
type BackpressureOptions struct {
	MaxQueueSize int
	// OnDrop is invoked for every event TryEmit discards. Optional.
	OnDrop func(eventType string, data map[string]interface{})
	Logger ports.Logger
	// Prom registers Prometheus collectors for the sink. Optional.
	Prom *PromMetrics
}

// BackpressureSink wraps a downstream sink with a bounded queue drained by a
// background worker. Emit blocks when the queue is full; TryEmit drops.
type BackpressureSink struct {
	downstream Sink
	opts       BackpressureOptions
	queue      chan queuedEvent

	mu             sync.Mutex
	started        bool
	stopped        bool
	stopCh         chan struct{}
	workerDone     chan struct{}
	emitted        int64
	dropped        int64
	queueFullCount int64
	lastEmit       time.Time
	lastDrop       time.Time
	dropLogged     bool
}

// NewBackpressureSink creates a sink delivering to downstream through a
// bounded queue.
func NewBackpressureSink(downstream Sink, opts BackpressureOptions) *BackpressureSink {
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = defaultQueueSize
	}
	return &BackpressureSink{
		downstream: downstream,
		opts:       opts,
		queue:      make(chan queuedEvent, opts.MaxQueueSize),
	}
}

// Start launches the background worker. Safe to call repeatedly.
func (s *BackpressureSink) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

func (s *BackpressureSink) startLocked() {
	if s.started && !s.stopped {
		return
	}
	s.started = true
	s.stopped = false
	s.stopCh = make(chan struct{})
	s.workerDone = make(chan struct{})
	go s.worker(s.stopCh, s.workerDone)
}

// Emit enqueues the event, blocking until queue space is available or the
// caller's context is canceled. The worker is started on first use.
func (s *BackpressureSink) Emit(ctx context.Context, eventType string, data map[string]interface{}) {
	s.Start()

	ev := queuedEvent{ctx: ctx, eventType: eventType, data: data}
	if ctx == nil {
		s.queue <- ev
		s.recordEmit()
		return
	}

	select {
	case s.queue <- ev:
		s.recordEmit()
	case <-ctx.Done():
	}
}

// TryEmit enqueues without blocking. A full queue drops the event, records
// the drop and reports false.
func (s *BackpressureSink) TryEmit(ctx context.Context, eventType string, data map[string]interface{}) bool {
	s.Start()

	select {
	case s.queue <- queuedEvent{ctx: ctx, eventType: eventType, data: data}:
		s.recordEmit()
		return true
	default:
	}

	s.recordDrop(eventType, data)
	return false
}

// Stop halts the worker. With drain, queued events are forwarded within the
// timeout before the worker exits. Safe to call repeatedly.
func (s *BackpressureSink) Stop(drain bool, timeout time.Duration) {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	stopCh := s.stopCh
	workerDone := s.workerDone
	s.mu.Unlock()

	if drain {
		deadline := time.After(timeout)
	drainLoop:
		for {
			select {
			case ev := <-s.queue:
				s.forward(ev)
			case <-deadline:
				break drainLoop
			default:
				break drainLoop
			}
		}
	}

	close(stopCh)
	<-workerDone
}

// Metrics returns a snapshot of the delivery counters.
func (s *BackpressureSink) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.emitted + s.dropped
	rate := 0.0
	if total > 0 {
		rate = math.Round(float64(s.dropped)/float64(total)*100*100) / 100
	}
	return Metrics{
		Emitted:         s.emitted,
		Dropped:         s.dropped,
		QueueFullCount:  s.queueFullCount,
		LastEmitTime:    s.lastEmit,
		LastDropTime:    s.lastDrop,
		DropRatePercent: rate,
	}
}

func (s *BackpressureSink) worker(stopCh, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(dequeueTimeout)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(dequeueTimeout)

		select {
		case ev := <-s.queue:
			s.forward(ev)
		case <-stopCh:
			return
		case <-timer.C:
		}
	}
}

// forward delivers one event downstream. Downstream panics are contained so
// the worker keeps draining.
func (s *BackpressureSink) forward(ev queuedEvent) {
	defer func() {
		if r := recover(); r != nil && s.opts.Logger != nil {
			s.opts.Logger.Warn(context.Background(), "downstream sink panicked", "event_type", ev.eventType, "panic", r)
		}
	}()
	if s.downstream == nil {
		return
	}
	ctx := ev.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.downstream.Emit(ctx, ev.eventType, ev.data)
}

func (s *BackpressureSink) recordEmit() {
	s.mu.Lock()
	s.emitted++
	s.lastEmit = time.Now()
	s.mu.Unlock()

	if s.opts.Prom != nil {
		s.opts.Prom.emitted.Inc()
		s.opts.Prom.queueDepth.Set(float64(len(s.queue)))
	}
}

func (s *BackpressureSink) recordDrop(eventType string, data map[string]interface{}) {
	s.mu.Lock()
	s.dropped++
	s.queueFullCount++
	s.lastDrop = time.Now()
	logOnce := !s.dropLogged
	s.dropLogged = true
	s.mu.Unlock()

	if logOnce && s.opts.Logger != nil {
		s.opts.Logger.Warn(context.Background(), "event queue full, dropping events", "event_type", eventType, "max_queue_size", s.opts.MaxQueueSize)
	}
	if s.opts.Prom != nil {
		s.opts.Prom.dropped.Inc()
	}
	if s.opts.OnDrop != nil {
		s.opts.OnDrop(eventType, data)
	}
}
