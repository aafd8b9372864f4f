package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIDPropagation(t *testing.T) {
	var seen string
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		seen = CorrelationIDFromContext(c.UserContext())
		require.Equal(t, seen, GetCorrelationID(c))
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, "judge-run-17")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, "judge-run-17", seen)
	require.Equal(t, "judge-run-17", resp.Header.Get(HeaderCorrelationID))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, strings.Repeat("x", maxCorrelationIDLength+1))
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	require.Len(t, resp.Header.Get(HeaderCorrelationID), 36)
	require.Equal(t, resp.Header.Get(HeaderCorrelationID), seen)
}

func TestContextWithCorrelation(t *testing.T) {
	ctx := ContextWithCorrelation(context.Background(), "  abc ")
	require.Equal(t, "abc", CorrelationIDFromContext(ctx))

	require.Empty(t, CorrelationIDFromContext(ContextWithCorrelation(context.Background(), " ")))
}
