package middleware

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/secure-health-portal/internal/config"
)

func serve(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestTokenBucket(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Minute,
		TTL: 10 * time.Minute, KeyStrategy: "ip_route", Prefix: "rl:test",
	}
	e := echo.New()
	e.POST("/login", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewTokenBucket(cfg, rdb, zap.NewNop()))
	e.POST("/verify-2FA", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewTokenBucket(cfg, rdb, zap.NewNop()))

	assert.Equal(t, http.StatusOK, serve(e, http.MethodPost, "/login").Code)
	rec := serve(e, http.MethodPost, "/login")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = serve(e, http.MethodPost, "/login")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// separate bucket per route
	assert.Equal(t, http.StatusOK, serve(e, http.MethodPost, "/verify-2FA").Code)
}

func TestTokenBucket_ForwardedForDoesNotSplitBuckets(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Minute,
		TTL: 10 * time.Minute, KeyStrategy: "ip_route", Prefix: "rl:test",
	}
	e := echo.New()
	e.IPExtractor = IPExtractor(nil)
	e.POST("/verify-2FA", func(c echo.Context) error { return c.String(http.StatusOK, c.RealIP()) }, NewTokenBucket(cfg, rdb, zap.NewNop()))

	codes := map[int]int{}
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodPost, "/verify-2FA", nil)
		req.Header.Set(echo.HeaderXForwardedFor, fmt.Sprintf("203.0.113.%d", i))
		req.Header.Set(echo.HeaderXRealIP, fmt.Sprintf("198.51.100.%d", i))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		codes[rec.Code]++
		if rec.Code == http.StatusOK {
			assert.Equal(t, "192.0.2.1", rec.Body.String())
		}
	}
	assert.Equal(t, 2, codes[http.StatusOK])
	assert.Equal(t, 8, codes[http.StatusTooManyRequests])
}

func TestIPExtractor_TrustedProxies(t *testing.T) {
	_, private, err := net.ParseCIDR("10.0.0.0/8")
	require.NoError(t, err)
	extract := IPExtractor([]*net.IPNet{private})

	// behind a trusted proxy the forwarded client is used
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:4000"
	req.Header.Set(echo.HeaderXForwardedFor, "203.0.113.7, 10.9.9.9")
	assert.Equal(t, "203.0.113.7", extract(req))

	// a direct client cannot claim another address
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.20:5000"
	req.Header.Set(echo.HeaderXForwardedFor, "203.0.113.7")
	assert.Equal(t, "198.51.100.20", extract(req))

	// nothing trusted: headers ignored
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:4000"
	req.Header.Set(echo.HeaderXForwardedFor, "203.0.113.7")
	assert.Equal(t, "10.1.2.3", IPExtractor(nil)(req))
}

func TestTokenBucket_NoRedisPassesThrough(t *testing.T) {
	e := echo.New()
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1}
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewTokenBucket(cfg, nil, zap.NewNop()))
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/x").Code)
	}
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := echo.New()
	e.Use(RequestLogger(zap.New(core)))
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/missing", func(c echo.Context) error { return echo.ErrNotFound })

	rec := serve(e, http.MethodGet, "/ok")
	_, err := uuid.Parse(rec.Header().Get(echo.HeaderXRequestID))
	assert.NoError(t, err)

	rec = serve(e, http.MethodGet, "/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.EqualValues(t, 404, entries[1].ContextMap()["status"])
	assert.Equal(t, "/missing", entries[1].ContextMap()["route"])
}

func TestRecover(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	e := echo.New()
	e.Use(Recover(zap.New(core)))
	e.GET("/boom", func(c echo.Context) error { panic("kaboom") })

	rec := serve(e, http.MethodGet, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestNoStore(t *testing.T) {
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NoStore())
	rec := serve(e, http.MethodGet, "/x")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
