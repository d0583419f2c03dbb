package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultramatch/src/middleware"
)

func TestAllowWithinWindow(t *testing.T) {
	rl := middleware.NewRateLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d within budget", i)
	}
	assert.False(t, rl.Allow("10.0.0.1"), "fourth request exceeds budget")

	// other clients have their own windows
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestAllowWindowRollover(t *testing.T) {
	rl := middleware.NewRateLimiter(1, time.Millisecond)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))

	time.Sleep(2 * time.Millisecond)
	assert.True(t, rl.Allow("10.0.0.1"), "count resets in the next window")
}

func rateLimitedApp(rl *middleware.RateLimiter) *fiber.App {
	app := fiber.New()
	app.Use(rl.Middleware())
	app.Get("/ping", func(c *fiber.Ctx) error {
		return c.SendString("pong")
	})
	return app
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	app := rateLimitedApp(middleware.NewRateLimiter(2, time.Hour))

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		resp, err := app.Test(req)
		require.NoError(t, err)
		statuses = append(statuses, resp.StatusCode)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)
}

func TestMiddlewareSetsRateLimitHeaders(t *testing.T) {
	app := rateLimitedApp(middleware.NewRateLimiter(100, time.Second))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "100", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "1s", resp.Header.Get("X-RateLimit-Window"))
}

func TestClientsAreRateLimitedIndependently(t *testing.T) {
	app := rateLimitedApp(middleware.NewRateLimiter(1, time.Hour))

	for _, ip := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Forwarded-For", ip)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "first request from %s", ip)
	}
}
