package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agentsdk"

// Metrics contains the SDK-level metrics shared by every agent. All Record
// methods are safe on a nil *Metrics, so components built without a registry
// skip instrumentation.
type Metrics struct {
	// Lifecycle metrics
	MountPhase    prometheus.Gauge
	ManagerStatus *prometheus.GaugeVec

	// Dispatch metrics
	HandlersRegistered     *prometheus.GaugeVec
	NotificationsDelivered *prometheus.CounterVec
	ChangesApplied         *prometheus.CounterVec
	ChangesDropped         *prometheus.CounterVec
	DispatchDuration       *prometheus.HistogramVec
	ScopedLocksAcquired    prometheus.Counter
	ScopedLocksReleased    prometheus.Counter
	ErrorsTotal            *prometheus.CounterVec

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all SDK metrics
func NewMetrics() *Metrics {
	return &Metrics{
		MountPhase: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "mount",
				Name:      "phase",
				Help:      "Mount registry phase (0=registering, 1=mounting, 2=complete)",
			},
		),

		ManagerStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "manager",
				Name:      "status",
				Help:      "Manager status (0=unmounted, 1=mounted, 2=stub, 3=stale)",
			},
			[]string{"region"},
		),

		HandlersRegistered: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "manager",
				Name:      "handlers",
				Help:      "Number of handlers registered with a manager",
			},
			[]string{"region"},
		),

		NotificationsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "notifications_total",
				Help:      "Total number of handler notifications delivered",
			},
			[]string{"region"},
		),

		ChangesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "changes_total",
				Help:      "Total number of store changes applied to a manager view",
			},
			[]string{"region", "op"},
		),

		ChangesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "changes_dropped_total",
				Help:      "Total number of store changes dropped before dispatch",
			},
			[]string{"region", "reason"},
		),

		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Time spent dispatching one change, lock held",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"region"},
		),

		ScopedLocksAcquired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "acquired_total",
				Help:      "Total number of scoped locks acquired",
			},
		),

		ScopedLocksReleased: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "released_total",
				Help:      "Total number of scoped locks released",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "class"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.MountPhase,
		c.ManagerStatus,
		c.HandlersRegistered,
		c.NotificationsDelivered,
		c.ChangesApplied,
		c.ChangesDropped,
		c.DispatchDuration,
		c.ScopedLocksAcquired,
		c.ScopedLocksReleased,
		c.ErrorsTotal,
		c.NATSConnected,
		c.NATSRTT,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
	}
}

// RecordMountPhase updates the mount phase gauge
func (c *Metrics) RecordMountPhase(phase int) {
	if c == nil {
		return
	}
	c.MountPhase.Set(float64(phase))
}

// RecordManagerStatus updates a manager's status gauge
func (c *Metrics) RecordManagerStatus(region string, status int) {
	if c == nil {
		return
	}
	c.ManagerStatus.WithLabelValues(region).Set(float64(status))
}

// RecordHandlers updates the registered handler gauge for a region
func (c *Metrics) RecordHandlers(region string, count int) {
	if c == nil {
		return
	}
	c.HandlersRegistered.WithLabelValues(region).Set(float64(count))
}

// RecordNotifications adds delivered notifications for a region
func (c *Metrics) RecordNotifications(region string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.NotificationsDelivered.WithLabelValues(region).Add(float64(n))
}

// RecordChangeApplied increments the applied change counter
func (c *Metrics) RecordChangeApplied(region, op string) {
	if c == nil {
		return
	}
	c.ChangesApplied.WithLabelValues(region, op).Inc()
}

// RecordChangeDropped increments the dropped change counter
func (c *Metrics) RecordChangeDropped(region, reason string) {
	if c == nil {
		return
	}
	c.ChangesDropped.WithLabelValues(region, reason).Inc()
}

// RecordDispatchDuration records the time one change held the dispatch lock
func (c *Metrics) RecordDispatchDuration(region string, d time.Duration) {
	if c == nil {
		return
	}
	c.DispatchDuration.WithLabelValues(region).Observe(d.Seconds())
}

// RecordLockAcquired increments the scoped lock acquisition counter
func (c *Metrics) RecordLockAcquired() {
	if c == nil {
		return
	}
	c.ScopedLocksAcquired.Inc()
}

// RecordLockReleased increments the scoped lock release counter
func (c *Metrics) RecordLockReleased() {
	if c == nil {
		return
	}
	c.ScopedLocksReleased.Inc()
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, class string) {
	if c == nil {
		return
	}
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	if c == nil {
		return
	}
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	if c == nil {
		return
	}
	c.NATSCircuitBreaker.Set(float64(state))
}
