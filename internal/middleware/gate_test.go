package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blockhaven/server/internal/auth"
	"github.com/blockhaven/server/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSessions struct {
	identity *auth.Identity
	err      error
}

func (f *fakeSessions) Resolve(_ *http.Request) (*auth.Identity, error) {
	return f.identity, f.err
}

type fakeLimiter struct {
	calls     int
	identity  string
	endpoint  string
	result    ratelimit.Result
	err       error
	resets    int
	resetKeys []string
	// locked makes Peek report an exhausted budget.
	locked  bool
	peekErr error
	peeks   []string
}

func (f *fakeLimiter) Check(_ context.Context, identity, endpoint string) (ratelimit.Result, error) {
	f.calls++
	f.identity = identity
	f.endpoint = endpoint
	return f.result, f.err
}

func (f *fakeLimiter) Peek(_ context.Context, identity, endpoint string) (ratelimit.Result, error) {
	f.peeks = append(f.peeks, identity+" "+endpoint)
	return ratelimit.Result{Allowed: !f.locked, Limit: 10, ResetAt: time.Now().Add(time.Hour)}, f.peekErr
}

func (f *fakeLimiter) Reset(_ context.Context, identity, endpoint string) error {
	f.resets++
	f.resetKeys = append(f.resetKeys, identity+" "+endpoint)
	return nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var alice = &auth.Identity{UserID: "42", Username: "alice", Email: "alice@example.com"}

func newGateRouter(sessions SessionResolver, limiter RateChecker, now time.Time) (*gin.Engine, *bool) {
	gate := NewGate(DefaultGateConfig(), sessions, limiter, quietLogger())
	gate.now = func() time.Time { return now }

	reached := false
	router := gin.New()
	router.Use(gate.Middleware())
	handler := func(c *gin.Context) {
		reached = true
		id := IdentityFrom(c)
		name := ""
		if id != nil {
			name = id.Username
		}
		c.JSON(http.StatusOK, gin.H{"user": name})
	}
	router.GET("/", handler)
	router.GET("/login", handler)
	router.GET("/dashboard", handler)
	router.GET("/dashboard/logs", handler)
	router.GET("/dashboards", handler)
	router.GET("/api/admin/server/status", handler)
	router.POST("/api/admin/server/start", handler)
	router.GET("/api/administrator", handler)
	return router, &reached
}

func TestGate_Classify(t *testing.T) {
	g := NewGate(DefaultGateConfig(), &fakeSessions{}, nil, quietLogger())

	tests := map[string]RouteClass{
		"/":                        RoutePublic,
		"/login":                   RoutePublic,
		"/api/auth/signin":         RoutePublic,
		"/dashboard":               RouteProtectedPage,
		"/dashboard/logs":          RouteProtectedPage,
		"/dashboards":              RoutePublic,
		"/api/admin":               RouteProtectedAPI,
		"/api/admin/server/status": RouteProtectedAPI,
		"/api/administrator":       RoutePublic,
	}
	for path, want := range tests {
		assert.Equal(t, want, g.Classify(path), path)
	}
}

func TestGate_PublicPassesWithoutSession(t *testing.T) {
	limiter := &fakeLimiter{}
	router, reached := newGateRouter(&fakeSessions{}, limiter, time.Now())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboards", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *reached)
	assert.Zero(t, limiter.calls)
}

func TestGate_APIWithoutSession(t *testing.T) {
	limiter := &fakeLimiter{}
	router, reached := newGateRouter(&fakeSessions{}, limiter, time.Now())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/server/status", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Unauthorized","message":"Authentication required to access this endpoint"}`, w.Body.String())
	assert.False(t, *reached)
	assert.Zero(t, limiter.calls)
}

func TestGate_InvalidSessionTreatedAsMissing(t *testing.T) {
	limiter := &fakeLimiter{}
	router, _ := newGateRouter(&fakeSessions{err: errors.New("token expired")}, limiter, time.Now())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/server/status", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, limiter.calls)
}

func TestGate_PageWithoutSessionRedirects(t *testing.T) {
	limiter := &fakeLimiter{}
	router, reached := newGateRouter(&fakeSessions{}, limiter, time.Now())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard/logs", nil))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
	assert.False(t, *reached)
	assert.Zero(t, limiter.calls)
}

func TestGate_PageWithSessionSkipsRateLimit(t *testing.T) {
	limiter := &fakeLimiter{}
	router, reached := newGateRouter(&fakeSessions{identity: alice}, limiter, time.Now())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *reached)
	assert.Zero(t, limiter.calls)
}

func TestGate_APIAllowedSetsHeaders(t *testing.T) {
	now := time.UnixMilli(1_700_000_010_000)
	limiter := &fakeLimiter{result: ratelimit.Result{
		Allowed: true, Limit: 120, Remaining: 119, ResetAt: time.UnixMilli(1_700_000_040_000),
	}}
	router, reached := newGateRouter(&fakeSessions{identity: alice}, limiter, now)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/server/status", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *reached)
	assert.Equal(t, 1, limiter.calls)
	assert.Equal(t, "alice", limiter.identity)
	assert.Equal(t, "/api/admin/server/status", limiter.endpoint)
	assert.Equal(t, "120", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "119", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1700000040", w.Header().Get("X-RateLimit-Reset"))
	assert.Empty(t, w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"user":"alice"}`, w.Body.String())
}

func TestGate_APIRejected(t *testing.T) {
	now := time.UnixMilli(1_700_000_010_000)
	limiter := &fakeLimiter{result: ratelimit.Result{
		Allowed: false, Limit: 5, Remaining: 0, ResetAt: time.UnixMilli(1_700_000_040_000),
	}}
	router, reached := newGateRouter(&fakeSessions{identity: alice}, limiter, now)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/server/start", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.False(t, *reached)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Too Many Requests", body["error"])
	assert.Equal(t, "Rate limit exceeded. Try again in 30 seconds.", body["message"])
	assert.Equal(t, float64(30), body["retryAfter"])
}

func TestGate_FailOpen(t *testing.T) {
	t.Run("no store configured", func(t *testing.T) {
		router, reached := newGateRouter(&fakeSessions{identity: alice}, nil, time.Now())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/server/start", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, *reached)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	})

	t.Run("store error", func(t *testing.T) {
		limiter := &fakeLimiter{err: errors.New("dial tcp: connection refused")}
		router, reached := newGateRouter(&fakeSessions{identity: alice}, limiter, time.Now())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/server/start", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, *reached)
		assert.Equal(t, 1, limiter.calls)
	})
}

func TestGate_RateLimitIdentityFallsBackToEmail(t *testing.T) {
	limiter := &fakeLimiter{result: ratelimit.Result{Allowed: true, Limit: 1, ResetAt: time.Now().Add(time.Minute)}}
	router, _ := newGateRouter(&fakeSessions{identity: &auth.Identity{UserID: "7", Email: "bob@example.com"}}, limiter, time.Now())

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/admin/server/status", nil))
	assert.Equal(t, "bob@example.com", limiter.identity)
}

func TestGate_WithRealLimiter(t *testing.T) {
	store := newCountingStore()
	now := time.UnixMilli(1_700_000_010_000)
	limiter := ratelimit.NewLimiter(store, ratelimit.DefaultPolicies(), quietLogger(),
		ratelimit.WithClock(func() time.Time { return now }))
	router, _ := newGateRouter(&fakeSessions{identity: alice}, limiter, now)

	codes := make([]int, 0, 6)
	for i := 0; i < 6; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/server/start", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 200, 200, 200, 429}, codes)
}

type countingStore struct {
	values map[string]int64
}

func newCountingStore() *countingStore {
	return &countingStore{values: map[string]int64{}}
}

func (s *countingStore) Get(_ context.Context, key string) (int64, bool, error) {
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *countingStore) Put(_ context.Context, key string, value int64, _ time.Duration) error {
	s.values[key] = value
	return nil
}

func (s *countingStore) Delete(_ context.Context, key string) error {
	delete(s.values, key)
	return nil
}
