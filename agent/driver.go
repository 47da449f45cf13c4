package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/agentsdk/dispatch"
	"github.com/c360/agentsdk/errors"
	"github.com/c360/agentsdk/health"
	"github.com/c360/agentsdk/metric"
	"github.com/c360/agentsdk/mount"
	"github.com/c360/agentsdk/pkg/retry"
	"github.com/c360/agentsdk/pkg/worker"
	"github.com/c360/agentsdk/store"
)

// Job is an out-of-band mutation. Submitted jobs run on a pool worker with
// the scoped lock held, so no handler observes a job half done.
type Job func(ctx context.Context) error

// Routable participants receive the change feed of their region. Managers
// are routable.
type Routable interface {
	mount.Participant
	dispatch.Sink
	Region() string
}

type closer interface {
	Close()
}

// Driver state
const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

// Driver hosts an agent: it owns the mount registry, the dispatch loop and
// the mutation pool, and runs the startup sequence against a store.
type Driver struct {
	id       string
	store    store.Store
	registry *mount.Registry
	loop     *dispatch.Loop
	pool     *worker.Pool[Job]
	logger   *slog.Logger
	metrics  *metric.MetricsRegistry
	monitor  *health.Monitor

	connect         func(ctx context.Context) error
	connectRetry    retry.Config
	workers         int
	queueSize       int
	shutdownTimeout time.Duration

	mu       sync.Mutex
	closers  []closer
	mounted  *mount.Mounted
	runCtx   context.Context
	cancel   context.CancelFunc
	stopReq  bool
	done     chan struct{}
	state    atomic.Int32
	stopOnce sync.Once
}

// Option configures a Driver
type Option func(*Driver)

// WithLogger sets the driver logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics records registry, dispatch and pool metrics in registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(d *Driver) {
		d.metrics = registry
	}
}

// WithHealth reports the startup sequence to monitor under "agent"
func WithHealth(monitor *health.Monitor) Option {
	return func(d *Driver) {
		d.monitor = monitor
	}
}

// WithInstanceID overrides the generated instance id
func WithInstanceID(id string) Option {
	return func(d *Driver) {
		if id != "" {
			d.id = id
		}
	}
}

// WithConnector runs connect, retried with cfg, before mounting
func WithConnector(connect func(ctx context.Context) error, cfg retry.Config) Option {
	return func(d *Driver) {
		d.connect = connect
		d.connectRetry = cfg
	}
}

// WithWorkers sizes the mutation pool
func WithWorkers(count, queueSize int) Option {
	return func(d *Driver) {
		d.workers = count
		d.queueSize = queueSize
	}
}

// WithShutdownTimeout bounds how long shutdown waits for queued jobs
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		if timeout > 0 {
			d.shutdownTimeout = timeout
		}
	}
}

// New creates a driver over st.
func New(st store.Store, opts ...Option) (*Driver, error) {
	if st == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Driver", "New", "nil store")
	}

	d := &Driver{
		id:              uuid.NewString(),
		store:           st,
		logger:          slog.Default(),
		connectRetry:    retry.DefaultConfig(),
		workers:         4,
		queueSize:       64,
		shutdownTimeout: 5 * time.Second,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "agent", "instance", d.id)

	core := d.metrics.CoreMetrics()
	d.registry = mount.NewRegistry(mount.WithLogger(d.logger), mount.WithMetrics(core))
	d.loop = dispatch.New(dispatch.WithLogger(d.logger), dispatch.WithMetrics(core))

	poolOpts := []worker.Option[Job]{
		worker.WithLogger[Job](d.logger),
		worker.WithErrorHandler(func(_ Job, err error) {
			d.logger.Warn("Mutation job failed", "error", err, "class", errors.Classify(err).String())
			core.RecordError("agent", errors.Classify(err).String())
		}),
	}
	if d.metrics != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[Job](d.metrics, "mutations"))
	}
	pool, err := worker.NewPool(d.workers, d.queueSize, d.runJob, poolOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Driver", "New", "create mutation pool")
	}
	d.pool = pool

	return d, nil
}

// InstanceID returns the id of this agent process
func (d *Driver) InstanceID() string {
	return d.id
}

// Registry returns the mount registry for participants that register
// themselves.
func (d *Driver) Registry() *mount.Registry {
	return d.registry
}

// Loop returns the dispatch loop, whose scoped lock guards out-of-band
// mutations.
func (d *Driver) Loop() *dispatch.Loop {
	return d.loop
}

// Register adds p to the mount registry. Routable participants are also
// routed their region's changes, and participants with a Close method are
// closed on shutdown. Registering after Run started mounting is a protocol
// violation.
func (d *Driver) Register(p mount.Participant) {
	d.registry.Register(p)

	if r, ok := p.(Routable); ok {
		d.loop.Route(r.Region(), r)
	}
	if c, ok := p.(closer); ok {
		d.mu.Lock()
		d.closers = append(d.closers, c)
		d.mu.Unlock()
	}
}

// Run connects, mounts every registered participant, completes mounting,
// and then pumps changes until ctx is cancelled or Shutdown is called. It
// returns nil after a clean shutdown and an error wrapping ErrMountFailed
// when the store cannot be mounted.
func (d *Driver) Run(ctx context.Context) error {
	if !d.state.CompareAndSwap(stateIdle, stateRunning) {
		if d.state.Load() == stateStopped {
			return errors.WrapInvalid(errors.ErrShuttingDown, "Driver", "Run", "start agent")
		}
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Driver", "Run", "start agent")
	}
	defer close(d.done)

	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	if d.stopReq {
		cancel()
	}
	d.mu.Unlock()
	defer cancel()
	defer d.teardown()

	d.report(health.NewDegraded("agent", "Starting"))

	if d.connect != nil {
		d.logger.Info("Connecting to store")
		if err := retry.Do(ctx, d.connectRetry, func() error { return d.connect(ctx) }); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.report(health.FromError("agent", err))
			return errors.WrapTransient(err, "Driver", "Run", "connect to store")
		}
	}

	group := mount.NewGroup()
	d.registry.DoMounts(group)

	mounted, err := mount.Apply(ctx, d.store, group, d.logger)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		d.report(health.FromError("agent", err))
		return errors.Wrap(fmt.Errorf("%w: %w", ErrMountFailed, err), "Driver", "Run", "mount regions")
	}
	d.mu.Lock()
	d.mounted = mounted
	d.runCtx = ctx
	d.mu.Unlock()

	d.registry.MountsComplete(mounted)

	if err := d.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "Driver", "Run", "start mutation pool")
	}

	if missing := mounted.Missing(); len(missing) > 0 {
		d.logger.Info("Agent running with stub regions", "stubs", missing)
	}
	d.report(health.NewHealthy("agent", "Running"))
	d.logger.Info("Agent running", "regions", mounted.Regions(), "participants", d.registry.Len())

	return d.loop.Run(ctx, mounted.Feeds()...)
}

// Resync re-establishes the feeds of regions whose watcher closed. Each
// region is watched again, retried like the initial connect, and its fresh
// snapshot is merged into the routed managers, which deliver what changed
// while the feed was down and leave the stale state. Hosts call it once the
// store connection is back.
func (d *Driver) Resync(ctx context.Context) error {
	d.mu.Lock()
	mounted, runCtx := d.mounted, d.runCtx
	d.mu.Unlock()
	if mounted == nil || d.state.Load() != stateRunning {
		return errors.WrapInvalid(errors.ErrNotStarted, "Driver", "Resync", "resync regions")
	}

	var errs []error
	for _, region := range d.loop.Lost() {
		var (
			snapshot []store.Entry
			feed     store.Feed
		)
		err := retry.Do(ctx, d.connectRetry, func() error {
			var err error
			snapshot, feed, err = mounted.Rewatch(runCtx, region)
			if errors.IsInvalid(err) {
				return retry.NonRetryable(err)
			}
			return err
		})
		if err == nil {
			err = d.loop.Resume(ctx, region, snapshot, feed)
		}
		if err != nil {
			d.logger.Warn("Region resync failed", "region", region, "error", err)
			errs = append(errs, fmt.Errorf("region %s: %w", region, err))
			continue
		}
		d.logger.Info("Region feed re-established", "region", region, "entries", len(snapshot))
	}
	if len(errs) > 0 {
		return errors.WrapTransient(stderrors.Join(errs...), "Driver", "Resync", "resync regions")
	}
	return nil
}

func (d *Driver) report(s health.Status) {
	if d.monitor != nil {
		d.monitor.Update("agent", s)
	}
}

func (d *Driver) runJob(ctx context.Context, job Job) error {
	return d.loop.WithLock(func() error {
		return job(ctx)
	})
}

// Submit queues a mutation job without blocking. It fails with
// worker.ErrQueueFull under backpressure and worker.ErrPoolNotStarted before
// mounting completed.
func (d *Driver) Submit(job Job) error {
	if job == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Driver", "Submit", "nil job")
	}
	return d.pool.Submit(job)
}

// SubmitWait queues a mutation job, waiting for queue room until ctx is done.
func (d *Driver) SubmitWait(ctx context.Context, job Job) error {
	if job == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Driver", "SubmitWait", "nil job")
	}
	return d.pool.SubmitWait(ctx, job)
}

// Mutate runs fn on the calling goroutine with the scoped lock held.
func (d *Driver) Mutate(fn func() error) error {
	return d.loop.WithLock(fn)
}

// Shutdown stops Run and waits for it to return, or for ctx to be done.
// Calling it before Run only prevents Run from starting.
func (d *Driver) Shutdown(ctx context.Context) error {
	if d.state.CompareAndSwap(stateIdle, stateStopped) {
		return nil
	}

	d.mu.Lock()
	d.stopReq = true
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Driver", "Shutdown", "wait for agent to stop")
	}
}

// teardown drains the pool, closes participants in reverse registration
// order and releases the mounted feeds.
func (d *Driver) teardown() {
	d.stopOnce.Do(func() {
		d.state.Store(stateStopped)

		if err := d.pool.Stop(d.shutdownTimeout); err != nil {
			d.logger.Warn("Mutation pool did not drain", "error", err)
		}

		d.mu.Lock()
		closers := d.closers
		mounted := d.mounted
		d.mu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
		if mounted != nil {
			if err := mounted.Close(); err != nil {
				d.logger.Warn("Closing mounted regions failed", "error", err)
			}
		}

		stats := d.loop.LockStats()
		d.report(health.NewUnhealthy("agent", "Stopped"))
		d.logger.Info("Agent stopped", "locks_acquired", stats.Acquired, "locks_released", stats.Released)
	})
}
