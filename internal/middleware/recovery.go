package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/diagnosis-api/internal/handler"
)

// Recovery turns a handler panic into a 500. When the client connection is
// already gone only the panic is logged.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			logger := zerolog.Ctx(c.Request.Context())
			if err, ok := rec.(error); ok && (errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)) {
				logger.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("client connection lost")
				c.Abort()
				return
			}

			logger.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Msg("panic recovered")

			c.AbortWithStatusJSON(http.StatusInternalServerError,
				handler.NewErrorResponse("Internal server error", "request id "+c.GetString(ContextRequestID)))
		}()
		c.Next()
	}
}
