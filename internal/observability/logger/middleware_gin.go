package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/insightdesk/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	headerRequestID = "X-Request-Id"
	headerAdminID   = "X-Admin-Id"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug bool
	// SlowRequest raises completed requests slower than this to warn. Zero
	// disables the check.
	SlowRequest time.Duration
	// ErrorClassifier maps the last handler error to (type, code).
	ErrorClassifier func(err error) (string, string)
	// QuietRoutes log at debug. Health and metrics routes are always quiet.
	QuietRoutes []string
	// StreamRoutes are long-lived; they are logged when they end and never
	// count as slow.
	StreamRoutes []string
}

// GinMiddleware stamps each request with a request id and the acting admin,
// then writes one http_request line when the handler returns.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	quiet := routeSet(append([]string{"/metrics", "/healthz"}, cfg.QuietRoutes...))
	streams := routeSet(cfg.StreamRoutes)

	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		if actor := strings.TrimSpace(c.GetHeader(headerAdminID)); actor != "" {
			ctx = obscontext.WithActor(ctx, actor)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}

		var errorType string
		if lastErr := c.Errors.Last(); lastErr != nil {
			var errorCode string
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		_, isStream := streams[route]
		level := requestLevel(status, errorType)
		if !isStream && cfg.SlowRequest > 0 && elapsed > cfg.SlowRequest && level < zap.WarnLevel {
			level = zap.WarnLevel
			fields = append(fields, zap.Bool("slow", true))
		}
		if _, ok := quiet[route]; ok {
			level = zap.DebugLevel
		}

		if ce := FromContext(c.Request.Context()).Check(level, "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(headerRequestID))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	c.Header(headerRequestID, requestID)
	return requestID
}

// requestLevel keeps rejected filters out of the warn stream; they are
// caller mistakes, not service faults.
func requestLevel(status int, errorType string) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zap.ErrorLevel
	case status >= http.StatusBadRequest && errorType == "invalid_filter":
		return zap.DebugLevel
	default:
		return zap.InfoLevel
	}
}

func routeSet(routes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		if r = strings.TrimSpace(r); r != "" {
			out[r] = struct{}{}
		}
	}
	return out
}
