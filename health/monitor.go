package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/c360/agentsdk/manager"
)

// Monitor tracks the health of named checks in a thread-safe manner
type Monitor struct {
	mu          sync.RWMutex
	statuses    map[string]Status
	transitions map[string]int
	started     time.Time
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses:    make(map[string]Status),
		transitions: make(map[string]int),
		started:     time.Now(),
	}
}

// Update records the status for a named check
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Name = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	if prev, ok := m.statuses[name]; !ok || prev.Status != status.Status {
		m.transitions[name]++
	}
	m.statuses[name] = status
}

// UpdateHealthy marks a check healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy marks a check unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded marks a check degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// RegionListener returns a manager status listener that records each
// region's mount state under the region name.
func (m *Monitor) RegionListener() func(region string, s manager.Status) {
	return func(region string, s manager.Status) {
		m.Update(region, FromManagerStatus(region, s))
	}
}

// ConnectionListener returns a connection health callback recorded under
// name.
func (m *Monitor) ConnectionListener(name string) func(healthy bool) {
	return func(healthy bool) {
		if healthy {
			m.UpdateHealthy(name, "Connected")
			return
		}
		m.UpdateUnhealthy(name, "Connection lost")
	}
}

// Get retrieves the status for a named check
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// GetAll returns a copy of all current statuses
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]Status, len(m.statuses))
	for name, status := range m.statuses {
		result[name] = status
	}
	return result
}

// Remove stops tracking a check
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
	delete(m.transitions, name)
}

// Names returns the tracked check names in sorted order
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of tracked checks
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.statuses)
}

// AggregateHealth returns the aggregate status with sub-statuses in name
// order, each carrying its transition count.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	subs := make([]Status, 0, len(names))
	for _, name := range names {
		s := m.statuses[name]
		s = s.WithMetrics(&Metrics{
			Transitions:  m.transitions[name],
			LastActivity: s.Timestamp,
		})
		subs = append(subs, s)
	}
	uptime := time.Since(m.started)
	m.mu.RUnlock()

	agg := Aggregate(systemName, subs)
	return agg.WithMetrics(&Metrics{Uptime: uptime})
}

// Handler serves the aggregate status as JSON. Unhealthy answers 503.
func (m *Monitor) Handler(systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.AggregateHealth(systemName)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
