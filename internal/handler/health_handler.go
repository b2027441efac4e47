package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-assessment/internal/response"
)

// Pinger is a dependency the health check probes.
type Pinger func(ctx context.Context) error

// TimerCounter reports how many session timers are armed.
type TimerCounter interface {
	Len() int
}

// HealthHandler reports dependency health.
type HealthHandler struct {
	checks map[string]Pinger
	timers TimerCounter
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(checks map[string]Pinger, timers TimerCounter) *HealthHandler {
	return &HealthHandler{checks: checks, timers: timers}
}

// Health godoc
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := gin.H{"status": "ok", "dependencies": deps}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if h.timers != nil {
		body["armedTimers"] = h.timers.Len()
	}
	response.Success(c, status, body)
}
