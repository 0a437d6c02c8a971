package handler

import (
	"net/http"

	"github.com/aman-churiwal/media-gateway/internal/transport"
	"github.com/gin-gonic/gin"
)

type TransportMonitor interface {
	Status() transport.Status
	ResetBreakers()
}

// Handles system-related endpoints
type SystemHandler struct {
	transport TransportMonitor
}

func NewSystemHandler(transport TransportMonitor) *SystemHandler {
	return &SystemHandler{transport: transport}
}

// Handles GET /admin/transport
func (h *SystemHandler) TransportStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.transport.Status())
}

// Handles POST /admin/transport/reset
func (h *SystemHandler) ResetBreakers(c *gin.Context) {
	h.transport.ResetBreakers()

	c.JSON(http.StatusOK, gin.H{
		"message": "circuit breakers reset",
	})
}
