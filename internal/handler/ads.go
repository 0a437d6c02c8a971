package handler

import (
	"context"
	"net/http"

	"github.com/aman-churiwal/media-gateway/internal/dispatch"
	"github.com/aman-churiwal/media-gateway/internal/middleware"
	"github.com/gin-gonic/gin"
)

type GrantDispatcher interface {
	RequestGrant(ctx context.Context, adType string, subject dispatch.Subject) (*dispatch.Grant, error)
	MarkPlayed(ctx context.Context, grantToken, deviceID string) (*dispatch.PlayResult, error)
	Limits(ctx context.Context, adType string, subject dispatch.Subject) ([]dispatch.NetworkLimit, error)
}

type AdHandler struct {
	dispatcher GrantDispatcher
}

func NewAdHandler(dispatcher GrantDispatcher) *AdHandler {
	return &AdHandler{dispatcher: dispatcher}
}

func subjectFrom(c *gin.Context) dispatch.Subject {
	return dispatch.Subject{DeviceID: c.Query("device_id"), ClientIP: middleware.ClientIP(c)}
}

// Handles GET /api/ads/:type
func (h *AdHandler) Grant(c *gin.Context) {
	grant, err := h.dispatcher.RequestGrant(c.Request.Context(), c.Param("type"), subjectFrom(c))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	if grant == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "quota_exhausted"})
		return
	}

	c.JSON(http.StatusOK, grant)
}

type markPlayedRequest struct {
	Token    string `json:"unique_id" binding:"required"`
	DeviceID string `json:"device_id"`
}

// Handles POST /api/ads/played
func (h *AdHandler) Played(c *gin.Context) {
	var req markPlayedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	}

	result, err := h.dispatcher.MarkPlayed(c.Request.Context(), req.Token, req.DeviceID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Handles GET /api/ads/limits
func (h *AdHandler) Limits(c *gin.Context) {
	subject := subjectFrom(c)
	limits, err := h.dispatcher.Limits(c.Request.Context(), c.Query("type"), subject)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subject":  subject.Key(),
		"networks": limits,
	})
}
