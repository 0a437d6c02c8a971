package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/middleware"
	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/aman-churiwal/media-gateway/internal/service"
	"github.com/gin-gonic/gin"
)

type AccessAnalytics interface {
	GetSummary(ctx context.Context, from, to time.Time) (*service.AccessSummary, error)
	GetLogs(ctx context.Context, from, to time.Time, onlyFailures bool, limit, offset int) ([]models.AccessLog, error)
}

type AnalyticsHandler struct {
	service AccessAnalytics
	clock   func() time.Time
}

func NewAnalyticsHandler(service AccessAnalytics, clock func() time.Time) *AnalyticsHandler {
	if clock == nil {
		clock = time.Now
	}
	return &AnalyticsHandler{service: service, clock: clock}
}

// Handles GET /admin/access/summary
func (h *AnalyticsHandler) GetSummary(c *gin.Context) {
	from, to, err := parseTimeRange(c, h.clock())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	}

	summary, err := h.service.GetSummary(c.Request.Context(), from, to)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"from":    from,
		"to":      to,
		"summary": summary,
	})
}

// Handles GET /admin/access/logs
func (h *AnalyticsHandler) GetLogs(c *gin.Context) {
	from, to, err := parseTimeRange(c, h.clock())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	}

	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	onlyFailures := c.Query("failures") == "true"

	logs, err := h.service.GetLogs(c.Request.Context(), from, to, onlyFailures, limit, offset)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":   logs,
		"limit":  limit,
		"offset": offset,
	})
}

// Parses 'from' and 'to' query parameters, RFC3339 or unix seconds. Defaults to the last 24 hours.
func parseTimeRange(c *gin.Context, now time.Time) (time.Time, time.Time, error) {
	to := now.UTC()
	from := to.Add(-24 * time.Hour)

	if fromStr := c.Query("from"); fromStr != "" {
		parsed, err := parseTime(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}

	if toStr := c.Query("to"); toStr != "" {
		parsed, err := parseTime(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}

	return from, to, nil
}

func parseTime(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return parsed.UTC(), nil
	}
	if timestamp, convErr := strconv.ParseInt(value, 10, 64); convErr == nil {
		return time.Unix(timestamp, 0).UTC(), nil
	}
	return time.Time{}, err
}
