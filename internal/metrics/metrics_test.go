package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_Observers(t *testing.T) {
	c := NewCollector()

	c.ObserveDecision("/api/admin/rcon", true)
	c.ObserveDecision("/api/admin/rcon", false)
	c.ObserveDecision("/api/admin/rcon", false)
	c.ObserveExecution("list", "success", 3, 4*time.Second)
	c.ObserveAuditWrite("rcon_command", nil)
	c.ObserveAuditWrite("rcon_command", errors.New("db down"))

	assert.Equal(t, float64(1), testutil.ToFloat64(c.rateLimitDecisions.WithLabelValues("/api/admin/rcon", "allowed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.rateLimitDecisions.WithLabelValues("/api/admin/rcon", "rejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.rconExecutions.WithLabelValues("list", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.auditWrites.WithLabelValues("rcon_command", "error")))
}

func TestCollector_HandlerAndMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := NewCollector()

	router := gin.New()
	router.Use(c.GinMiddleware())
	router.GET("/health", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(c.Handler()))

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `blockhaven_http_requests_total{method="GET",route="/health",status="200"} 1`), body)
}
