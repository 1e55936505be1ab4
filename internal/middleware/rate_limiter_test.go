package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phototree/internal/config"
)

func TestSyncRateLimiter(t *testing.T) {
	app := fiber.New()
	app.Post("/sync", NewSyncRateLimiter(config.RateLimitConfig{SyncLimit: 2, SyncWindow: time.Minute}), func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})
	app.Get("/other", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("POST", "/sync", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	}

	resp, err := app.Test(httptest.NewRequest("POST", "/sync", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/other", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode, "other routes are not limited")
}
