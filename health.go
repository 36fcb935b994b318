package stash

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dan-strohschein/stash/resultset"
)

// HealthStatus is the outcome of a health probe.
type HealthStatus int

const (
	Healthy HealthStatus = iota
	Degraded
	Unhealthy
)

// String returns the string representation of the health status.
func (s HealthStatus) String() string {
	switch s {
	case Healthy:
		return "HEALTHY"
	case Degraded:
		return "DEGRADED"
	case Unhealthy:
		return "UNHEALTHY"
	default:
		return "UNKNOWN"
	}
}

// HealthReport carries the probe outcome and a human-readable message.
type HealthReport struct {
	Status  HealthStatus
	Message string
}

// ProbeStore is the slice of the cache store the health probe exercises.
type ProbeStore interface {
	Get(ctx context.Context, key string) (*resultset.ResultSet, error)
}

// HealthChecker probes the cache store and evaluates the observed hit
// rate against the configured threshold.
type HealthChecker struct {
	store      ProbeStore
	stats      *Stats
	minHitRate float64
	logger     Logger
}

// NewHealthChecker creates a health checker over the given store and
// counters.
func NewHealthChecker(store ProbeStore, stats *Stats, minHitRate float64, logger Logger) *HealthChecker {
	if logger == nil {
		logger = NewNoopLogger()
	}
	return &HealthChecker{
		store:      store,
		stats:      stats,
		minHitRate: minHitRate,
		logger:     logger.WithFields(String("component", "health")),
	}
}

// Check probes the store with a known-absent key and evaluates the hit
// rate. A store failure yields Unhealthy; a reachable store with a hit
// rate below the threshold yields Degraded.
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	probeKey := "healthprobe:" + uuid.NewString()

	_, err := h.store.Get(ctx, probeKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		h.logger.Error("health probe failed", Err("error", err))
		return HealthReport{
			Status:  Unhealthy,
			Message: fmt.Sprintf("cache store unreachable: %s", err.Error()),
		}
	}

	if h.stats.Requests() == 0 {
		return HealthReport{
			Status:  Healthy,
			Message: "cache store reachable; no requests observed yet",
		}
	}

	rate := h.stats.HitRatePercent()
	if rate < h.minHitRate {
		return HealthReport{
			Status: Degraded,
			Message: fmt.Sprintf("hit rate %.1f%% below threshold %.1f%%",
				rate, h.minHitRate),
		}
	}

	return HealthReport{
		Status:  Healthy,
		Message: fmt.Sprintf("hit rate %.1f%%", rate),
	}
}
