package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// RateLimiter is a per-client fixed-window counter. Each client gets at most
// maxRequests within the current window; the counter resets when a request
// arrives in a later window.
type RateLimiter struct {
	maxRequests    int
	windowDuration time.Duration
	windows        map[string]*clientWindow
	mu             sync.Mutex
}

type clientWindow struct {
	windowStart int64
	count       int
}

func NewRateLimiter(maxRequests int, windowDuration time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests:    maxRequests,
		windowDuration: windowDuration,
		windows:        make(map[string]*clientWindow),
	}
}

func (rl *RateLimiter) clientID(c *fiber.Ctx) string {
	ip := c.Get("X-Forwarded-For")
	if ip == "" {
		ip = c.Get("X-Real-IP")
	}
	if ip == "" {
		ip = c.IP()
	}
	return ip
}

// Allow counts one request for the client and reports whether it is within
// the window budget.
func (rl *RateLimiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	windowStart := time.Now().UnixNano() / int64(rl.windowDuration)

	w, exists := rl.windows[clientIP]
	if !exists || w.windowStart != windowStart {
		// edge case: a stale window resets the count for the new window
		rl.windows[clientIP] = &clientWindow{windowStart: windowStart, count: 1}
		return true
	}

	if w.count >= rl.maxRequests {
		return false
	}
	w.count++
	return true
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID := rl.clientID(c)

		if !rl.Allow(clientID) {
			log.Warn().
				Str("client_ip", clientID).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Int("max_requests", rl.maxRequests).
				Msg("Rate limit exceeded")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "Rate limit exceeded",
				"message": "Too many requests. Please try again later.",
			})
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.maxRequests))
		c.Set("X-RateLimit-Window", rl.windowDuration.String())

		return c.Next()
	}
}

func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(100, time.Second)
}
