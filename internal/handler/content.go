package handler

import (
	"context"
	"net/http"

	"github.com/aman-churiwal/media-gateway/internal/logging"
	"github.com/aman-churiwal/media-gateway/internal/middleware"
	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ContentAdmin interface {
	FindByHandle(ctx context.Context, handle string) (*models.ContentObject, error)
	Register(ctx context.Context, content *models.ContentObject) error
	Revoke(ctx context.Context, handle string) error
}

// ObjectDeleter removes stored objects; nil when no object store is configured.
type ObjectDeleter interface {
	Delete(ctx context.Context, key string) error
}

type ContentHandler struct {
	content ContentAdmin
	objects ObjectDeleter
	logger  *zap.Logger
}

func NewContentHandler(content ContentAdmin, objects ObjectDeleter, logger *zap.Logger) *ContentHandler {
	return &ContentHandler{content: content, objects: objects, logger: logging.OrNop(logger)}
}

type registerContentRequest struct {
	Handle          string `json:"handle" binding:"required"`
	Locator         string `json:"locator" binding:"required"`
	FileName        string `json:"file_name"`
	MimeType        string `json:"mime_type"`
	Size            int64  `json:"size"`
	DurationSeconds int64  `json:"duration_seconds"`
	ObjectKey       string `json:"object_key"`
	PublisherID     *uint  `json:"publisher_id"`
}

// Handles POST /admin/content
func (h *ContentHandler) Register(c *gin.Context) {
	var req registerContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	}

	content := &models.ContentObject{
		Handle:          req.Handle,
		Locator:         req.Locator,
		FileName:        req.FileName,
		MimeType:        req.MimeType,
		Size:            req.Size,
		DurationSeconds: req.DurationSeconds,
		ObjectKey:       req.ObjectKey,
		PublisherID:     req.PublisherID,
	}
	if err := h.content.Register(c.Request.Context(), content); err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, content)
}

// Handles POST /admin/content/:handle/revoke. With ?purge=true the stored object is deleted too.
func (h *ContentHandler) Revoke(c *gin.Context) {
	ctx := c.Request.Context()
	handle := c.Param("handle")

	content, err := h.content.FindByHandle(ctx, handle)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	if err := h.content.Revoke(ctx, handle); err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	purged := false
	if c.Query("purge") == "true" && content != nil && content.ObjectKey != "" && h.objects != nil {
		if err := h.objects.Delete(ctx, content.ObjectKey); err != nil {
			h.logger.Warn("object purge failed", zap.String("handle", handle), zap.Error(err))
		} else {
			purged = true
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "content revoked",
		"handle":  handle,
		"purged":  purged,
	})
}
