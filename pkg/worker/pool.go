package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/agentsdk/metric"
)

// Pool runs submitted work items of type T on a fixed set of goroutines
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	onError   func(T, error)
	logger    *slog.Logger

	workChan chan T
	metrics  *poolMetrics
	wg       sync.WaitGroup

	lifecycleMu sync.RWMutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	busy      atomic.Int64

	registrar     metric.MetricsRegistrar
	metricsPrefix string
}

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	utilization    prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option configures a Pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers pool metrics named agentsdk_<prefix>_*
func WithMetricsRegistry[T any](registrar metric.MetricsRegistrar, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.registrar = registrar
		p.metricsPrefix = prefix
	}
}

// WithLogger sets the pool logger
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithErrorHandler is called on the worker goroutine for every failed item
func WithErrorHandler[T any](fn func(T, error)) Option[T] {
	return func(p *Pool[T]) {
		p.onError = fn
	}
}

// NewPool creates a pool. Non-positive sizes fall back to 10 workers and a
// queue of 1000. Metric registration errors are returned.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) (*Pool[T], error) {
	if processor == nil {
		return nil, ErrNilProcessor
	}
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		logger:    slog.Default(),
		workChan:  make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.registrar != nil && p.metricsPrefix != "" {
		if err := p.initializeMetrics(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pool[T]) initializeMetrics() error {
	const component = "worker_pool"
	prefix := p.metricsPrefix
	opts := func(name, help string) (string, string, string, string) {
		return "agentsdk", prefix, name, help
	}
	gauge := func(name, help string) prometheus.Gauge {
		ns, sub, n, h := opts(name, help)
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Subsystem: sub, Name: n, Help: h})
	}
	counter := func(name, help string) prometheus.Counter {
		ns, sub, n, h := opts(name, help)
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Subsystem: sub, Name: n, Help: h})
	}

	m := &poolMetrics{
		queueDepth:  gauge("queue_depth", "Current worker pool queue depth"),
		utilization: gauge("utilization", "Share of workers busy (0-1)"),
		submitted:   counter("submitted_total", "Total work items submitted"),
		processed:   counter("processed_total", "Total work items processed"),
		failed:      counter("failed_total", "Total work items that failed processing"),
		dropped:     counter("dropped_total", "Total work items rejected because the queue was full"),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentsdk",
			Subsystem: prefix,
			Name:      "processing_duration_seconds",
			Help:      "Time spent processing work items",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"status"}),
	}

	regs := []func() error{
		func() error { return p.registrar.RegisterGauge(component, prefix+"_queue_depth", m.queueDepth) },
		func() error { return p.registrar.RegisterGauge(component, prefix+"_utilization", m.utilization) },
		func() error { return p.registrar.RegisterCounter(component, prefix+"_submitted_total", m.submitted) },
		func() error { return p.registrar.RegisterCounter(component, prefix+"_processed_total", m.processed) },
		func() error { return p.registrar.RegisterCounter(component, prefix+"_failed_total", m.failed) },
		func() error { return p.registrar.RegisterCounter(component, prefix+"_dropped_total", m.dropped) },
		func() error {
			return p.registrar.RegisterHistogramVec(component, prefix+"_processing_duration_seconds", m.processingTime)
		},
	}
	for _, reg := range regs {
		if err := reg(); err != nil {
			return err
		}
	}

	p.metrics = m
	return nil
}

// Submit queues work without blocking. A full queue returns ErrQueueFull.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()

	if err := p.accepting(); err != nil {
		return err
	}

	select {
	case p.workChan <- work:
		p.accepted()
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// SubmitWait queues work, waiting for room until ctx is done.
func (p *Pool[T]) SubmitWait(ctx context.Context, work T) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()

	if err := p.accepting(); err != nil {
		return err
	}

	select {
	case p.workChan <- work:
		p.accepted()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// accepting reports why work cannot be queued. Caller holds lifecycleMu.
func (p *Pool[T]) accepting() error {
	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}
	return nil
}

func (p *Pool[T]) accepted() {
	p.submitted.Add(1)
	if p.metrics != nil {
		p.metrics.submitted.Inc()
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}
}

// Start launches the workers. They exit when ctx is cancelled or the pool
// is stopped.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	if p.metrics != nil {
		p.wg.Add(1)
		go p.metricsUpdater(ctx)
	}

	p.started = true
	p.logger.Debug("Worker pool started", "workers", p.workers, "queue_size", p.queueSize)
	return nil
}

// Stop closes the queue and waits up to timeout for queued work to drain.
// No work is accepted afterwards, even when the wait times out.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.logger.Debug("Worker pool stopped", "processed", p.processed.Load())
		return nil
	case <-timer.C:
		p.logger.Warn("Worker pool stop timed out", "queued", len(p.workChan), "busy", p.busy.Load())
		return ErrStopTimeout
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Busy       int64 `json:"busy"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Busy:       p.busy.Load(),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

func (p *Pool[T]) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.process(ctx, id, work)
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, id int, work T) {
	p.busy.Add(1)
	defer p.busy.Add(-1)

	start := time.Now()
	err := p.processor(ctx, work)
	duration := time.Since(start)

	p.processed.Add(1)
	status := "success"
	if err != nil {
		p.failed.Add(1)
		status = "error"
		p.logger.Debug("Work item failed", "worker", id, "error", err)
		if p.onError != nil {
			p.onError(work, err)
		}
	}

	if p.metrics != nil {
		p.metrics.processed.Inc()
		if err != nil {
			p.metrics.failed.Inc()
		}
		p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// metricsUpdater refreshes queue depth and utilization once a second
func (p *Pool[T]) metricsUpdater(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
			p.metrics.utilization.Set(float64(p.busy.Load()) / float64(p.workers))
			p.lifecycleMu.RLock()
			stopped := p.stopped
			p.lifecycleMu.RUnlock()
			if stopped {
				return
			}
		}
	}
}
