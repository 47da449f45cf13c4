package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/agentsdk/errors"
	"github.com/c360/agentsdk/metric"
	"github.com/c360/agentsdk/store"
)

// Sink receives the changes of the regions it is routed to. Managers are
// sinks.
type Sink interface {
	Apply(e *store.Entry)
}

// StaleMarker is implemented by sinks that track whether their feed is live.
type StaleMarker interface {
	MarkStale(stale bool)
}

// Resyncer is implemented by sinks that fold a fresh snapshot of their region
// into their view once a lost feed is re-established. Sinks that are not
// Resyncers get the snapshot applied entry by entry and their stale flag
// cleared.
type Resyncer interface {
	Resync(snapshot []store.Entry)
}

// Loop is the single event loop that pumps region feeds into their sinks.
// It also owns the process-wide scoped lock: every change is dispatched with
// the lock held, and out-of-band mutations take the same lock through Lock
// or WithLock.
type Loop struct {
	mu sync.Mutex // the scoped lock

	routesMu sync.RWMutex
	routes   map[string][]Sink
	lost     map[string]struct{}

	attach  chan store.Feed
	runDone chan struct{}

	running  atomic.Bool
	acquired atomic.Int64
	released atomic.Int64

	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Loop
type Option func(*Loop)

// WithLogger sets the loop logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records dispatch durations and lock counts
func WithMetrics(m *metric.Metrics) Option {
	return func(l *Loop) {
		l.metrics = m
	}
}

// New creates a loop with no routes.
func New(opts ...Option) *Loop {
	l := &Loop{
		routes: make(map[string][]Sink),
		lost:   make(map[string]struct{}),
		attach: make(chan store.Feed),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "dispatch")
	return l
}

// Route sends the changes of region to s, after any sinks already routed
// there. Routing the same sink twice is a no-op.
func (l *Loop) Route(region string, s Sink) {
	l.routesMu.Lock()
	defer l.routesMu.Unlock()
	for _, existing := range l.routes[region] {
		if existing == s {
			return
		}
	}
	l.routes[region] = append(l.routes[region], s)
}

func (l *Loop) sinks(region string) []Sink {
	l.routesMu.RLock()
	defer l.routesMu.RUnlock()
	return l.routes[region]
}

type event struct {
	region string
	entry  *store.Entry
	closed bool
}

// Run pumps feeds until ctx is cancelled. Changes from one feed are
// dispatched in feed order; there is no ordering across feeds. A feed that
// closes before ctx is done marks its stale-aware sinks stale; Run keeps
// serving the remaining feeds until Resume re-attaches it. Run returns nil on
// cancellation and errors.ErrAlreadyStarted if the loop is already running.
func (l *Loop) Run(ctx context.Context, feeds ...store.Feed) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Loop", "Run", "start dispatch loop")
	}
	defer l.running.Store(false)

	done := make(chan struct{})
	defer close(done)
	l.routesMu.Lock()
	l.runDone = done
	l.routesMu.Unlock()

	events := make(chan event)
	var wg sync.WaitGroup
	start := func(f store.Feed) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			forward(ctx, f, events)
		}()
	}
	for _, f := range feeds {
		start(f)
	}
	defer wg.Wait()

	l.logger.Info("Dispatch loop started", "feeds", len(feeds))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Dispatch loop stopped")
			return nil
		case f := <-l.attach:
			start(f)
			l.logger.Info("Region feed attached", "region", f.Region)
		case ev := <-events:
			if ev.closed {
				l.feedLost(ev.region)
				continue
			}
			l.Deliver(ev.region, ev.entry)
		}
	}
}

func forward(ctx context.Context, f store.Feed, events chan<- event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-f.Updates:
			if !ok {
				select {
				case events <- event{region: f.Region, closed: true}:
				case <-ctx.Done():
				}
				return
			}
			if e == nil {
				continue
			}
			select {
			case events <- event{region: f.Region, entry: e}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (l *Loop) feedLost(region string) {
	l.logger.Warn("Region feed closed", "region", region)
	l.metrics.RecordError("dispatch", errors.ErrorTransient.String())
	l.routesMu.Lock()
	l.lost[region] = struct{}{}
	l.routesMu.Unlock()
	for _, s := range l.sinks(region) {
		if sm, ok := s.(StaleMarker); ok {
			sm.MarkStale(true)
		}
	}
}

// Deliver dispatches one change of region to its sinks with the scoped lock
// held. Run calls it for every feed entry; it is exported for hosts that
// drive their own feeds.
func (l *Loop) Deliver(region string, e *store.Entry) {
	sinks := l.sinks(region)
	if len(sinks) == 0 {
		l.metrics.RecordChangeDropped(region, "unrouted")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	for _, s := range sinks {
		s.Apply(e)
	}
	l.metrics.RecordDispatchDuration(region, time.Since(start))
}

// Lost lists the regions whose feed closed and has not been resumed.
func (l *Loop) Lost() []string {
	l.routesMu.RLock()
	defer l.routesMu.RUnlock()
	regions := make([]string, 0, len(l.lost))
	for r := range l.lost {
		regions = append(regions, r)
	}
	slices.Sort(regions)
	return regions
}

// Resume re-attaches a region whose feed was lost. With the scoped lock held,
// snapshot is handed to the region's sinks and their stale flag cleared; f
// is then pumped like the feeds Run started with. Changes f replays that the
// snapshot already holds are dropped by the sinks' revision check. Resume
// fails with errors.ErrNotStarted unless Run is pumping.
func (l *Loop) Resume(ctx context.Context, region string, snapshot []store.Entry, f store.Feed) error {
	if !l.running.Load() {
		return errors.WrapInvalid(errors.ErrNotStarted, "Loop", "Resume", fmt.Sprintf("resume region %s", region))
	}

	l.mu.Lock()
	for _, s := range l.sinks(region) {
		if r, ok := s.(Resyncer); ok {
			r.Resync(snapshot)
			continue
		}
		for i := range snapshot {
			s.Apply(&snapshot[i])
		}
		if sm, ok := s.(StaleMarker); ok {
			sm.MarkStale(false)
		}
	}
	l.mu.Unlock()

	l.routesMu.Lock()
	delete(l.lost, region)
	done := l.runDone
	l.routesMu.Unlock()

	select {
	case l.attach <- f:
		return nil
	case <-done:
		return errors.WrapInvalid(errors.ErrNotStarted, "Loop", "Resume", fmt.Sprintf("attach feed of %s", region))
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Loop", "Resume", fmt.Sprintf("attach feed of %s", region))
	}
}
