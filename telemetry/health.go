package telemetry

import "context"

// State is the coarse health classification reported by the checker.
type State int

const (
	StateHealthy State = iota
	StateDegraded
	StateUnhealthy
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Status is the result of a health check.
type Status struct {
	State  State
	Reason string
}

// HealthChecker probes the cache store and applies the minimum hit-rate
// rule. The probe is a closure (wired by the container) that performs a
// lookup of a known-absent key against the live store.
type HealthChecker struct {
	probe      func(ctx context.Context) error
	metrics    *Metrics
	minHitRate float64
}

// NewHealthChecker builds a checker. minHitRate is a percentage in [0,100];
// below it the store reports degraded.
func NewHealthChecker(probe func(ctx context.Context) error, metrics *Metrics, minHitRate float64) *HealthChecker {
	return &HealthChecker{probe: probe, metrics: metrics, minHitRate: minHitRate}
}

// Check probes the store. Probe failure is unhealthy; a reachable store with
// a hit rate below the threshold is degraded; a store that has seen no
// requests yet is healthy with a note.
func (h *HealthChecker) Check(ctx context.Context) Status {
	if err := h.probe(ctx); err != nil {
		return Status{State: StateUnhealthy, Reason: "cache probe failed: " + err.Error()}
	}
	if h.metrics.Requests() == 0 {
		return Status{State: StateHealthy, Reason: "no cache requests observed yet"}
	}
	if rate := h.metrics.HitRate(); rate < h.minHitRate {
		return Status{State: StateDegraded, Reason: "hit rate below threshold"}
	}
	return Status{State: StateHealthy}
}
