package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blinkboard/blink-backend/internal/platform/ctxutil"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

// Probes hit every few seconds; successful ones are logged at debug.
var probePaths = map[string]bool{"/healthcheck": true, "/readyz": true}

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if log == nil {
			return
		}

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if td := ctxutil.GetTraceData(c.Request.Context()); td != nil {
			if td.TraceID != "" {
				fields = append(fields, "trace_id", td.TraceID)
			}
			if td.RequestID != "" {
				fields = append(fields, "request_id", td.RequestID)
			}
		}
		// Signed routes carry no session; the actor is logged by the service.
		if sd := ctxutil.GetSessionData(c.Request.Context()); sd != nil {
			fields = append(fields, "identity_id", sd.IdentityID.String(), "actor_id", sd.PublicKey)
		}
		if rem := c.Writer.Header().Get("X-RateLimit-Remaining"); rem != "" {
			fields = append(fields, "ratelimit_remaining", rem)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.String())
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		case probePaths[path]:
			log.Debug("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
