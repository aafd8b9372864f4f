package handler_test

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-praktikum-api/internal/config"
	"github.com/noah-isme/gema-praktikum-api/internal/router"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// headerIdentity stands in for the JWT middleware: X-Test-User and X-Test-Role set the locals.
func headerIdentity(c *fiber.Ctx) error {
	if raw := c.Get("X-Test-User"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err == nil {
			c.Locals("user_id", uint(id))
		}
	}
	if role := c.Get("X-Test-Role"); role != "" {
		c.Locals("user_role", role)
	}
	return c.Next()
}

func newTestApp(deps router.Dependencies) *fiber.App {
	app := fiber.New()
	deps.JWTMiddleware = headerIdentity
	router.Register(app, config.Config{AppName: "Test", JWTSecret: "secret"}, deps)
	return app
}

func as(req *http.Request, userID uint, role string) *http.Request {
	req.Header.Set("X-Test-User", strconv.FormatUint(uint64(userID), 10))
	req.Header.Set("X-Test-Role", role)
	return req
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out envelope
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out
}
