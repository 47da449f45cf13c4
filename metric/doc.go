// Package metric provides Prometheus-based metrics collection and the HTTP
// server that exposes them for agent monitoring.
//
// A MetricsRegistry owns a private prometheus.Registry preloaded with the core
// SDK metrics (Metrics type) plus Go runtime and process collectors.
// Components with metrics of their own, such as the worker pool or the NATS
// KV bucket poller, register them through the MetricsRegistrar interface.
//
// # Core Metrics
//
//   - Lifecycle: agentsdk_mount_phase, agentsdk_manager_status{region}
//   - Dispatch: agentsdk_dispatch_notifications_total{region},
//     agentsdk_dispatch_changes_total{region,op},
//     agentsdk_dispatch_changes_dropped_total{region,reason},
//     agentsdk_dispatch_duration_seconds{region}
//   - Handlers: agentsdk_manager_handlers{region}
//   - Scoped lock: agentsdk_lock_acquired_total, agentsdk_lock_released_total
//   - NATS: agentsdk_nats_connected, agentsdk_nats_rtt_milliseconds,
//     agentsdk_nats_reconnects_total, agentsdk_nats_circuit_breaker
//
// Every Record method is a no-op on a nil *Metrics, so packages accept an
// optional registry and call CoreMetrics() unconditionally.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	server.Handle("/healthz", healthHandler)
//	if err := server.Start(); err != nil {
//	    return err
//	}
//	defer server.Stop(5 * time.Second)
//
//	registry.CoreMetrics().RecordMountPhase(2)
package metric
