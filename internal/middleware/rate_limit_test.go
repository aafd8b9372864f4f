package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestRateLimitIsPerUserAndSkipsFailures(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		switch c.Get("X-User") {
		case "1":
			c.Locals("user_id", uint(1))
		case "2":
			c.Locals("user_id", uint(2))
		}
		return c.Next()
	})
	app.Post("/submissions", RateLimit("submit", 2, time.Minute), func(c *fiber.Ctx) error {
		if c.Query("bad") != "" {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	send := func(user, query string) int {
		req := httptest.NewRequest(http.MethodPost, "/submissions"+query, nil)
		req.Header.Set("X-User", user)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp.StatusCode
	}

	require.Equal(t, fiber.StatusBadRequest, send("1", "?bad=1"))
	require.Equal(t, fiber.StatusAccepted, send("1", ""))
	require.Equal(t, fiber.StatusAccepted, send("1", ""))
	require.Equal(t, fiber.StatusTooManyRequests, send("1", ""))
	require.Equal(t, fiber.StatusAccepted, send("2", ""))
}
