package middleware

import (
	"context"
	"fmt"

	"github.com/aman-churiwal/media-gateway/internal/apperr"
	"github.com/aman-churiwal/media-gateway/internal/service"
	"github.com/gin-gonic/gin"
)

const callerKey = "caller"

type CallerAuthenticator interface {
	Authenticate(ctx context.Context, credential string) (*service.Caller, error)
}

// RequireScope authenticates the caller through the credential chain and checks it may use scope.
func RequireScope(auth CallerAuthenticator, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := auth.Authenticate(c.Request.Context(), Credential(c, DefaultExtractors...))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !caller.Allows(scope) {
			AbortWithError(c, fmt.Errorf("caller %s lacks scope %s: %w", caller.Name, scope, apperr.ErrForbidden))
			return
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

// CallerFrom returns the caller set by RequireScope, nil on unauthenticated routes.
func CallerFrom(c *gin.Context) *service.Caller {
	caller, _ := c.Get(callerKey)
	v, _ := caller.(*service.Caller)
	return v
}
