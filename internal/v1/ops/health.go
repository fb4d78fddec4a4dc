package ops

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// staleTicks is the freshness bound for readiness, in tick periods: an
// engine whose last tick is older than this many min_ticks counts as
// wedged.
const staleTicks = 10

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (s *Server) liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// readiness handles the readiness probe endpoint
// GET /health/ready
// Returns 200 only when the engine is ticking and the chat listener is
// bound; 503 otherwise.
func (s *Server) readiness(c *gin.Context) {
	checks := make(map[string]string)
	allHealthy := true

	engineStatus := "healthy"
	if snap := s.engine.Snapshot(); snap == nil {
		engineStatus = "unhealthy"
		allHealthy = false
	} else if time.Since(snap.LastTick) >= staleTicks*s.minTick {
		engineStatus = "unhealthy"
		allHealthy = false
	}
	checks["engine"] = engineStatus

	listenerStatus := "healthy"
	if s.binding == nil || s.binding.Addr() == nil {
		listenerStatus = "unhealthy"
		allHealthy = false
	}
	checks["listener"] = listenerStatus

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
