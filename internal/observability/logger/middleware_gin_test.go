package logger

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedEngine(t *testing.T, cfg MiddlewareConfig) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)

	r := gin.New()
	r.Use(GinMiddleware(cfg))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/admin/insights", func(c *gin.Context) {
		if c.Query("bad") != "" {
			_ = c.Error(errors.New("bad filter"))
			c.Status(http.StatusBadRequest)
			return
		}
		if c.Query("slow") != "" {
			time.Sleep(20 * time.Millisecond)
		}
		c.Status(http.StatusOK)
	})
	return r, logs
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGinMiddlewarePropagatesRequestAndActor(t *testing.T) {
	r, logs := newObservedEngine(t, MiddlewareConfig{})

	req := httptest.NewRequest(http.MethodGet, "/admin/insights", nil)
	req.Header.Set("X-Request-Id", "req-1")
	req.Header.Set("X-Admin-Id", "admin-7")
	rec := serve(r, req)

	assert.Equal(t, "req-1", rec.Header().Get("X-Request-Id"))
	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "admin-7", fields["actor_id"])
	assert.Equal(t, "/admin/insights", fields["route"])
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
}

func TestGinMiddlewareGeneratesRequestID(t *testing.T) {
	r, _ := newObservedEngine(t, MiddlewareConfig{})

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/admin/insights", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestGinMiddlewareLevels(t *testing.T) {
	r, logs := newObservedEngine(t, MiddlewareConfig{
		SlowRequest: 5 * time.Millisecond,
		ErrorClassifier: func(error) (string, string) {
			return "invalid_filter", "invalid_sort_by"
		},
	})

	serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/admin/insights?bad=1", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/admin/insights?slow=1", nil))

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level, "health checks are quiet")
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level, "rejected filters are debug")
	assert.Equal(t, "invalid_sort_by", entries[1].ContextMap()["error_code"])
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, true, entries[2].ContextMap()["slow"])
}
