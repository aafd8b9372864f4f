package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTProtectedPopulatesLocals(t *testing.T) {
	app := fiber.New()
	app.Use(JWTProtected("secret"))
	app.Get("/", func(c *fiber.Ctx) error {
		require.Equal(t, uint(42), c.Locals("user_id"))
		require.Equal(t, "asisten", c.Locals("user_role"))
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "secret", jwt.MapClaims{"sub": "42", "roles": []interface{}{"Asisten"}}))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestJWTProtectedRejectsBadTokens(t *testing.T) {
	app := fiber.New()
	app.Use(JWTProtected("secret"))
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	for _, header := range []string{
		"",
		"Basic abc",
		"Bearer ",
		"Bearer " + signedToken(t, "other", jwt.MapClaims{"sub": 1}),
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, header)
	}
}

func TestJWTProtectedPicksStrongestRole(t *testing.T) {
	require.Equal(t, "admin", roleFromClaims(jwt.MapClaims{"roles": []interface{}{"student", "Admin", "asisten"}}))
	require.Equal(t, "asisten", roleFromClaims(jwt.MapClaims{"role": "student", "roles": []interface{}{"asisten"}}))
	require.Equal(t, "dosen", roleFromClaims(jwt.MapClaims{"role": " Dosen "}))
	require.Equal(t, "", roleFromClaims(jwt.MapClaims{}))
}

func TestJWTProtectedRequiresSubject(t *testing.T) {
	app := fiber.New()
	app.Use(JWTProtected("secret"))
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	for _, claims := range []jwt.MapClaims{
		{"role": "student"},
		{"sub": "abc"},
		{"sub": -3.0},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signedToken(t, "secret", claims))
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	}
}

func TestJWTProtectedAcceptsQueryTokenOnlyForWebsocket(t *testing.T) {
	app := fiber.New()
	app.Use(JWTProtected("secret"))
	app.Get("/ws", func(c *fiber.Ctx) error {
		require.Equal(t, uint(7), c.Locals("user_id"))
		return c.SendStatus(fiber.StatusNoContent)
	})

	token := signedToken(t, "secret", jwt.MapClaims{"sub": 7, "role": "student"})

	plain := httptest.NewRequest(http.MethodGet, "/ws?access_token="+token, nil)
	resp, err := app.Test(plain, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	upgrade := httptest.NewRequest(http.MethodGet, "/ws?access_token="+token, nil)
	upgrade.Header.Set("Connection", "Upgrade")
	upgrade.Header.Set("Upgrade", "websocket")
	resp, err = app.Test(upgrade, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
