package middleware

import (
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/roadcall/roadside-dispatch/pkg/common"
	"github.com/roadcall/roadside-dispatch/pkg/logger"
	"go.uber.org/zap"
)

// RecoveryWithSentry recovers from panics, reports them to Sentry when
// configured, and returns a 500 without leaking internals.
func RecoveryWithSentry() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic: %v", r)

				if hub := sentry.CurrentHub(); hub.Client() != nil {
					hub.WithScope(func(scope *sentry.Scope) {
						scope.SetTag("correlation_id", GetCorrelationID(c))
						scope.SetRequest(c.Request)
						hub.RecoverWithContext(c.Request.Context(), r)
					})
				}

				logger.Error("panic recovered",
					zap.Error(err),
					zap.String("path", c.Request.URL.Path),
					zap.String("correlation_id", GetCorrelationID(c)),
				)

				common.ErrorResponse(c, http.StatusInternalServerError, "internal server error")
				c.Abort()
			}
		}()

		c.Next()
	}
}
