package middleware

import (
	"net/http"

	"github.com/aman-churiwal/media-gateway/internal/apperr"
	"github.com/gin-gonic/gin"
)

// AbortWithError writes the JSON error body for err and stops the chain.
func AbortWithError(c *gin.Context, err error) {
	status, code := apperr.Status(err)
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}
