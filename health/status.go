package health

import (
	"regexp"
	"strings"
	"time"

	"github.com/c360/agentsdk/manager"
)

// Status values
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|tls|wss?)://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status represents the health of one region, the store connection or the
// whole agent.
type Status struct {
	Name        string    `json:"name"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related counters
type Metrics struct {
	Uptime       time.Duration `json:"uptime"`
	ErrorCount   int           `json:"error_count"`
	Transitions  int           `json:"transitions,omitempty"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StateUnhealthy
}

// WithMetrics returns a copy of the status with metrics attached
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithSubStatus adds a sub-status and returns a copy
func (s Status) WithSubStatus(sub Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, sub)
	return s
}

// sanitizeErrorMessage strips URLs, paths, addresses, ports and credentials
// from an error before it is published on the health endpoint.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}

	sanitized := urlRegex.ReplaceAllString(err, "[URL]")
	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	lower := strings.ToLower(sanitized)
	for _, word := range []string{"password", "token", "secret", "credential"} {
		if strings.Contains(lower, word) {
			sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
			break
		}
	}
	return sanitized
}

// FromManagerStatus maps a manager's mount state to a region health status.
// A stub region is degraded: the agent runs, but the domain has no backing.
func FromManagerStatus(region string, s manager.Status) Status {
	switch s {
	case manager.StatusMounted:
		return NewHealthy(region, "Region mounted")
	case manager.StatusStub:
		return NewDegraded(region, "Region not provided by the store, running as stub")
	case manager.StatusStale:
		return NewDegraded(region, "Change feed lost, serving last known view")
	default:
		return NewUnhealthy(region, "Region not mounted")
	}
}

// FromError builds an unhealthy status whose message is the sanitized error.
func FromError(name string, err error) Status {
	if err == nil {
		return NewHealthy(name, "OK")
	}
	return NewUnhealthy(name, sanitizeErrorMessage(err.Error()))
}
