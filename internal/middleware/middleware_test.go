package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-order-saga/internal/config"
)

func signed(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + s
}

func serve(e *echo.Echo, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthSetsAgent(t *testing.T) {
	e := echo.New()
	e.GET("/v1/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, AgentID(c)+"/"+AgentGroup(c)+"/"+AgentName(c))
	}, JWTAuth("s3cret"))

	rec := serve(e, signed(t, "s3cret", jwt.MapClaims{"sub": "agent-1", "group": "Customer", "name": "Aiko"}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "agent-1/Customer/Aiko", rec.Body.String())

	rec = serve(e, signed(t, "other", jwt.MapClaims{"sub": "agent-1", "group": "Customer"}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(e, signed(t, "s3cret", jwt.MapClaims{"sub": "agent-1", "group": "Customer", "exp": time.Now().Add(-time.Minute).Unix()}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireGroup(t *testing.T) {
	e := echo.New()
	e.GET("/v1/ping", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		JWTAuth("s3cret"), RequireGroup("Staff"))

	require.Equal(t, http.StatusForbidden, serve(e, signed(t, "s3cret", jwt.MapClaims{"sub": "a", "group": "Customer"})).Code)
	require.Equal(t, http.StatusNoContent, serve(e, signed(t, "s3cret", jwt.MapClaims{"sub": "a", "group": "Staff"})).Code)
}

func TestTokenBucketPerAgent(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            5 * time.Hour,
		KeyStrategy:    "agent",
		Prefix:         "rl",
	}
	e := echo.New()
	e.GET("/v1/ping", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		JWTAuth("s3cret"), NewTokenBucket(cfg, rdb))

	first := signed(t, "s3cret", jwt.MapClaims{"sub": "agent-1", "group": "Customer"})
	require.Equal(t, http.StatusNoContent, serve(e, first).Code)
	require.Equal(t, http.StatusNoContent, serve(e, first).Code)

	rec := serve(e, first)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	other := signed(t, "s3cret", jwt.MapClaims{"sub": "agent-2", "group": "Customer"})
	require.Equal(t, http.StatusNoContent, serve(e, other).Code)
	require.True(t, mr.Exists("rl:agent:agent-1"))
}

func TestTokenBucketDisabled(t *testing.T) {
	e := echo.New()
	e.GET("/v1/ping", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		NewTokenBucket(config.RateLimitConfig{Enabled: false}, nil))
	for range 5 {
		require.Equal(t, http.StatusNoContent, serve(e, "").Code)
	}
}
