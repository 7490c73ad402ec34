package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/urmzd/homelink/pkg/api/types"
	"github.com/urmzd/homelink/pkg/recovery"
)

// CentralHandler handles system-wide state and recovery endpoints
type CentralHandler struct {
	conn Connectivity
}

// NewCentralHandler creates a new central handler
func NewCentralHandler(conn Connectivity) *CentralHandler {
	return &CentralHandler{conn: conn}
}

// GetCentral handles GET /central
// @Summary      Central state
// @Description  Returns the central state, its recent transitions and scheduler counters
// @Tags         central
// @Produce      json
// @Success      200  {object}  types.CentralResponse
// @Router       /central [get]
func (h *CentralHandler) GetCentral(c *gin.Context) {
	c.JSON(http.StatusOK, types.CentralResponse{
		State:     h.conn.CentralState(),
		Score:     h.conn.CentralHealth().OverallScore(),
		History:   h.conn.CentralHistory(),
		Scheduler: h.conn.SchedulerStats(),
	})
}

// RecoverAll handles POST /recover
// @Summary      Recover all failed interfaces
// @Description  Runs one recovery attempt for every DISCONNECTED or FAILED interface
// @Tags         recovery
// @Produce      json
// @Success      200  {object}  types.RecoverResponse
// @Failure      409  {object}  types.RecoverResponse  "Another recovery pass is running"
// @Router       /recover [post]
func (h *CentralHandler) RecoverAll(c *gin.Context) {
	writeSummary(c, h.conn.RecoverAllFailed(c.Request.Context()))
}

func writeSummary(c *gin.Context, summary recovery.Summary) {
	status := http.StatusOK
	if summary.InProgress {
		status = http.StatusConflict
	}
	if summary.Results == nil {
		summary.Results = []recovery.InterfaceResult{}
	}
	c.JSON(status, types.RecoverResponse{Summary: summary})
}
