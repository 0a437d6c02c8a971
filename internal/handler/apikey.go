package handler

import (
	"context"
	"net/http"

	"github.com/aman-churiwal/media-gateway/internal/middleware"
	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type APIKeyManager interface {
	Create(ctx context.Context, name, createdBy, scope string) (string, *models.APIKey, error)
	List(ctx context.Context) ([]models.APIKey, error)
	Revoke(ctx context.Context, id uuid.UUID) error
}

type APIKeyHandler struct {
	service APIKeyManager
}

func NewAPIKeyHandler(service APIKeyManager) *APIKeyHandler {
	return &APIKeyHandler{service: service}
}

// Handles POST /admin/keys
func (h *APIKeyHandler) Create(c *gin.Context) {
	var req struct {
		Name      string `json:"name" binding:"required"`
		CreatedBy string `json:"created_by"`
		Scope     string `json:"scope" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	}

	if req.CreatedBy == "" {
		if caller := middleware.CallerFrom(c); caller != nil {
			req.CreatedBy = caller.Name
		}
	}

	key, apiKey, err := h.service.Create(c.Request.Context(), req.Name, req.CreatedBy, req.Scope)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"key":     key,
		"api_key": apiKey,
		"message": "Save this key - it won't be shown again",
	})
}

// Handles GET /admin/keys
func (h *APIKeyHandler) List(c *gin.Context) {
	keys, err := h.service.List(c.Request.Context())
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, keys)
}

// Handles DELETE /admin/keys/:id
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": "invalid API key id"})
		return
	}

	if err := h.service.Revoke(c.Request.Context(), id); err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key revoked"})
}
