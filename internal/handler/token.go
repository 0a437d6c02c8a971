package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/aman-churiwal/media-gateway/internal/middleware"
	"github.com/aman-churiwal/media-gateway/internal/token"
	"github.com/gin-gonic/gin"
)

type TokenIssuer interface {
	Issue(ctx context.Context, handle, deviceID string) (*token.Pair, error)
}

type TokenHandler struct {
	issuer  TokenIssuer
	baseURL string
}

// NewTokenHandler builds absolute links from baseURL when set, relative paths otherwise.
func NewTokenHandler(issuer TokenIssuer, baseURL string) *TokenHandler {
	return &TokenHandler{issuer: issuer, baseURL: strings.TrimRight(baseURL, "/")}
}

type issueTokenRequest struct {
	Handle   string `json:"handle" binding:"required"`
	DeviceID string `json:"device_id" binding:"required"`
}

type issueTokenResponse struct {
	*token.Pair
	StreamURL   string `json:"stream_url"`
	DownloadURL string `json:"download_url"`
}

// Handles POST /api/tokens
func (h *TokenHandler) Issue(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	}

	pair, err := h.issuer.Issue(c.Request.Context(), req.Handle, req.DeviceID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, issueTokenResponse{
		Pair:        pair,
		StreamURL:   h.link("/stream/", pair.Handle, pair.StreamToken),
		DownloadURL: h.link("/dl/", pair.Handle, pair.DownloadToken),
	})
}

func (h *TokenHandler) link(prefix, handle, secret string) string {
	return h.baseURL + prefix + url.PathEscape(handle) + "?token=" + url.QueryEscape(secret)
}
