package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/questlog/questlog/internal/monitoring"
	"github.com/questlog/questlog/pkg/response"
)

// HealthHandler serves liveness and readiness probes. Probe responses render
// the report directly rather than the API envelope so orchestrators can read
// them without unwrapping.
type HealthHandler struct {
	health *monitoring.HealthManager
}

func NewHealthHandler(manager *monitoring.HealthManager) *HealthHandler {
	return &HealthHandler{health: manager}
}

// GET /health
func (h *HealthHandler) Live(c *gin.Context) {
	if h.health == nil {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
		return
	}

	report := h.health.EvaluateLiveness(requestContext(c))
	c.JSON(statusForReport(report), report)
}

// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.health == nil {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
		return
	}

	report := h.health.EvaluateReadiness(requestContext(c))
	c.JSON(statusForReport(report), report)
}

func statusForReport(report monitoring.HealthReport) int {
	if report.Success {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}
