package handler

import (
	"context"
	"net/http"

	"github.com/aman-churiwal/media-gateway/internal/earning"
	"github.com/aman-churiwal/media-gateway/internal/middleware"
	"github.com/gin-gonic/gin"
)

type EarningEvaluator interface {
	Evaluate(ctx context.Context, claim earning.Claim) (earning.Decision, error)
}

type EarningHandler struct {
	evaluator EarningEvaluator
}

func NewEarningHandler(evaluator EarningEvaluator) *EarningHandler {
	return &EarningHandler{evaluator: evaluator}
}

// Handles POST /api/earnings/evaluate
func (h *EarningHandler) Evaluate(c *gin.Context) {
	var claim earning.Claim
	if err := c.ShouldBindJSON(&claim); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	}

	decision, err := h.evaluator.Evaluate(c.Request.Context(), claim)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, decision)
}
