package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/urmzd/homelink/pkg/api/types"
	"github.com/urmzd/homelink/pkg/central"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	conn Connectivity
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(conn Connectivity) *HealthHandler {
	return &HealthHandler{conn: conn}
}

// Health handles GET /health
// @Summary      Health check
// @Description  Returns the central state and the interfaces that are not connected
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.HealthResponse  "Every interface is connected"
// @Failure      503  {object}  types.HealthResponse  "Degraded, recovering or failed"
// @Router       /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	status := h.conn.Status()

	httpStatus := http.StatusServiceUnavailable
	if status.CentralState == central.Running {
		httpStatus = http.StatusOK
	}

	c.JSON(httpStatus, types.HealthResponse{
		Status:             healthStatus(status.CentralState),
		CentralState:       status.CentralState,
		Score:              status.Score,
		Interfaces:         len(h.conn.Interfaces()),
		DegradedInterfaces: status.DegradedInterfaces,
		Timestamp:          time.Now(),
	})
}

func healthStatus(s central.State) string {
	switch s {
	case central.Running:
		return "healthy"
	case central.Failed:
		return "failed"
	case central.Stopped:
		return "stopped"
	case central.Starting, central.Initializing:
		return "starting"
	default:
		return "degraded"
	}
}
