package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/agentsdk/metric"
)

const bucketPollInterval = 30 * time.Second

// bucketMetrics polls the status of the KV buckets opened through the client.
// Only buckets the client touched are tracked.
type bucketMetrics struct {
	values *prometheus.GaugeVec // live keys by bucket
	bytes  *prometheus.GaugeVec // storage bytes by bucket
	state  *prometheus.GaugeVec // 1=reachable, 0=status failed
	errors *prometheus.CounterVec

	mu      sync.RWMutex
	buckets map[string]jetstream.KeyValue
}

func newBucketMetrics(registry metric.MetricsRegistrar) (*bucketMetrics, error) {
	m := &bucketMetrics{
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agentsdk",
			Subsystem: "kv",
			Name:      "bucket_values",
			Help:      "Number of live keys in bucket",
		}, []string{"bucket"}),
		bytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agentsdk",
			Subsystem: "kv",
			Name:      "bucket_bytes",
			Help:      "Storage bytes used by bucket",
		}, []string{"bucket"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agentsdk",
			Subsystem: "kv",
			Name:      "bucket_state",
			Help:      "Bucket state (1=reachable, 0=unreachable)",
		}, []string{"bucket"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentsdk",
			Subsystem: "kv",
			Name:      "operation_errors_total",
			Help:      "Total number of bucket operation errors",
		}, []string{"operation"}),
		buckets: make(map[string]jetstream.KeyValue),
	}

	if err := registry.RegisterGaugeVec("kv", "bucket_values", m.values); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("kv", "bucket_bytes", m.bytes); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("kv", "bucket_state", m.state); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("kv", "errors", m.errors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *bucketMetrics) track(name string, kv jetstream.KeyValue) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[name] = kv
	m.state.WithLabelValues(name).Set(1)
}

func (m *bucketMetrics) recordError(operation string) {
	if m != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

// updateStats refreshes every tracked bucket. A failing status call marks the
// bucket unreachable and moves on.
func (m *bucketMetrics) updateStats(ctx context.Context) {
	if m == nil {
		return
	}

	m.mu.RLock()
	buckets := make(map[string]jetstream.KeyValue, len(m.buckets))
	for k, v := range m.buckets {
		buckets[k] = v
	}
	m.mu.RUnlock()

	for name, kv := range buckets {
		st, err := kv.Status(ctx)
		if err != nil {
			m.state.WithLabelValues(name).Set(0)
			continue
		}
		m.values.WithLabelValues(name).Set(float64(st.Values()))
		m.bytes.WithLabelValues(name).Set(float64(st.Bytes()))
		m.state.WithLabelValues(name).Set(1)
	}
}

// startPoller polls until the returned cancel func is called.
func (m *bucketMetrics) startPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	if m == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.updateStats(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return cancel
}
