package health

import "time"

func newStatus(name, state, message string) Status {
	return Status{
		Name:      name,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a new healthy status
func NewHealthy(name, message string) Status {
	return newStatus(name, StateHealthy, message)
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(name, message string) Status {
	return newStatus(name, StateUnhealthy, message)
}

// NewDegraded creates a new degraded status
func NewDegraded(name, message string) Status {
	return newStatus(name, StateDegraded, message)
}

// Aggregate creates a status by aggregating sub-statuses.
// Any unhealthy sub-status makes the aggregate unhealthy; otherwise any
// degraded one makes it degraded.
func Aggregate(name string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(name, "Nothing to aggregate")
	}

	hasUnhealthy, hasDegraded := false, false
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			hasUnhealthy = true
		case sub.IsDegraded():
			hasDegraded = true
		}
	}

	var status Status
	switch {
	case hasUnhealthy:
		status = NewUnhealthy(name, "One or more checks are unhealthy")
	case hasDegraded:
		status = NewDegraded(name, "One or more checks are degraded")
	default:
		status = NewHealthy(name, "All checks are healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	return status
}
