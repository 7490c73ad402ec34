package handlers

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/urmzd/homelink/pkg/api/types"
	"github.com/urmzd/homelink/pkg/connectivity"
)

// InterfacesHandler handles per-interface endpoints
type InterfacesHandler struct {
	conn Connectivity
}

// NewInterfacesHandler creates a new interfaces handler
func NewInterfacesHandler(conn Connectivity) *InterfacesHandler {
	return &InterfacesHandler{conn: conn}
}

// ListInterfaces handles GET /interfaces
// @Summary      List interfaces
// @Description  Returns the health summary of every monitored interface
// @Tags         interfaces
// @Produce      json
// @Success      200  {object}  types.ListInterfacesResponse
// @Router       /interfaces [get]
func (h *InterfacesHandler) ListInterfaces(c *gin.Context) {
	snap := h.conn.CentralHealth()

	result := make([]types.InterfaceSummary, 0, len(snap.Interfaces))
	for _, ch := range snap.Interfaces {
		result = append(result, types.NewInterfaceSummary(ch))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	c.JSON(http.StatusOK, types.ListInterfacesResponse{
		Interfaces: result,
		Count:      len(result),
	})
}

// GetInterface handles GET /interfaces/:id
// @Summary      Get interface
// @Description  Returns health, transition history, circuit metrics and recovery state of one interface
// @Tags         interfaces
// @Produce      json
// @Param        id   path      string  true  "Interface ID"
// @Success      200  {object}  types.InterfaceResponse
// @Failure      404  {object}  types.ErrorResponse  "Unknown interface"
// @Router       /interfaces/{id} [get]
func (h *InterfacesHandler) GetInterface(c *gin.Context) {
	diag, err := h.conn.Diagnostics(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.InterfaceResponse{
		Interface:   types.NewInterfaceSummary(diag.Health),
		Diagnostics: diag,
	})
}

// RecoverInterface handles POST /interfaces/:id/recover
// @Summary      Recover interface
// @Description  Runs one recovery attempt for the interface; connected interfaces report NOOP
// @Tags         recovery
// @Produce      json
// @Param        id   path      string  true  "Interface ID"
// @Success      200  {object}  types.RecoverResponse
// @Failure      404  {object}  types.ErrorResponse  "Unknown interface"
// @Failure      409  {object}  types.RecoverResponse  "Another recovery pass is running"
// @Router       /interfaces/{id}/recover [post]
func (h *InterfacesHandler) RecoverInterface(c *gin.Context) {
	summary, err := h.conn.RecoverClient(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeSummary(c, summary)
}

// Heartbeat handles POST /interfaces/:id/heartbeat
// @Summary      Record liveness
// @Description  Records a liveness signal pushed by the backend of the interface
// @Tags         interfaces
// @Produce      json
// @Param        id   path      string  true  "Interface ID"
// @Success      200  {object}  types.HeartbeatResponse
// @Failure      404  {object}  types.ErrorResponse  "Unknown interface"
// @Router       /interfaces/{id}/heartbeat [post]
func (h *InterfacesHandler) Heartbeat(c *gin.Context) {
	id := c.Param("id")
	if err := h.conn.RecordLiveness(id); err != nil {
		writeError(c, err)
		return
	}

	ch, err := h.conn.Health(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.HeartbeatResponse{
		Interface: id,
		Received:  ch.LastLiveness,
	})
}

// writeError maps connectivity errors to HTTP responses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, connectivity.ErrUnknownInterface):
		c.JSON(http.StatusNotFound, types.ErrorResponse{
			Error:   "unknown_interface",
			Message: err.Error(),
		})
	case errors.Is(err, connectivity.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, types.ErrorResponse{
			Error:   "stopped",
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
	}
}
