package handler

import (
	"context"
	"net/http"

	"github.com/aman-churiwal/media-gateway/internal/delivery"
	"github.com/aman-churiwal/media-gateway/internal/middleware"
	"github.com/aman-churiwal/media-gateway/internal/token"
	"github.com/gin-gonic/gin"
)

type ContentServer interface {
	Serve(ctx context.Context, req delivery.Request, w http.ResponseWriter) (delivery.Outcome, error)
}

type DeliveryHandler struct {
	proxy ContentServer
}

func NewDeliveryHandler(proxy ContentServer) *DeliveryHandler {
	return &DeliveryHandler{proxy: proxy}
}

// Handles GET /dl/:handle
func (h *DeliveryHandler) Download(c *gin.Context) {
	h.serve(c, token.KindDownload)
}

// Handles GET /stream/:handle
func (h *DeliveryHandler) Stream(c *gin.Context) {
	h.serve(c, token.KindStream)
}

func (h *DeliveryHandler) serve(c *gin.Context, kind token.Kind) {
	req := delivery.Request{
		Handle:      c.Param("handle"),
		Secret:      c.Query("token"),
		Kind:        kind,
		RangeHeader: c.GetHeader("Range"),
		ClientIP:    middleware.ClientIP(c),
		UserAgent:   c.Request.UserAgent(),
	}

	out, err := h.proxy.Serve(c.Request.Context(), req, c.Writer)
	if err == nil {
		return
	}
	if out.Status == 0 {
		middleware.AbortWithError(c, err)
		return
	}

	// Headers are already on the wire; record the failure for the request logger only.
	_ = c.Error(err)
	c.Abort()
}
