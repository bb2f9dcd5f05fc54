package handlers

import (
	"net/http"

	"melody-map/internal/circuitbreaker"
	"melody-map/internal/scheduler"
)

// HealthResponse reports dependency state. Redis and the scheduler are optional.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]string      `json:"checks"`
	Scheduler *scheduler.Status      `json:"scheduler,omitempty"`
	Breakers  []circuitbreaker.Stats `json:"breakers,omitempty"`
}

// HealthCheck answers 503 when the store or a configured Redis is down and
// reports "degraded" while any provider breaker is open or an event broker is down
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC().Format("2006-01-02T15:04:05Z07:00"),
		Checks:    map[string]string{},
	}
	status := http.StatusOK

	if err := h.store.Health(); err != nil {
		resp.Checks["store"] = "unhealthy: " + err.Error()
		status = http.StatusServiceUnavailable
	} else {
		resp.Checks["store"] = "ok"
	}

	if h.redis != nil {
		if err := h.redis.Health(); err != nil {
			resp.Checks["redis"] = "unhealthy: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks["redis"] = "ok"
		}
	}

	degraded := false
	if h.events != nil {
		if err := h.events.Health(); err != nil {
			resp.Checks["events"] = "unhealthy: " + err.Error()
			degraded = true
		} else {
			resp.Checks["events"] = "ok"
		}
	}

	if h.scheduler != nil {
		st := h.scheduler.Status()
		resp.Scheduler = &st
	}

	resp.Breakers = h.connections.Providers().BreakerStats()
	for _, b := range resp.Breakers {
		if b.State == "open" {
			degraded = true
		}
	}
	if degraded {
		resp.Status = "degraded"
	}

	if status != http.StatusOK {
		resp.Status = "unhealthy"
	}
	h.sendJSONStatus(w, status, resp)
}
