package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"phototree/internal/config"
)

// NewSyncRateLimiter limits the reconcile endpoints, which walk the disk
func NewSyncRateLimiter(cfg config.RateLimitConfig) fiber.Handler {
	return NewCustomRateLimiter(cfg.SyncLimit, cfg.SyncWindow, "Too many sync requests. Please try again later.")
}

// NewCustomRateLimiter creates a custom rate limiter with specific parameters
func NewCustomRateLimiter(limit int, window time.Duration, message string) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: window,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Rate limit exceeded",
				"message":     message,
				"retry_after": window.Seconds(),
			})
		},
	})
}
