package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-praktikum-api/internal/utils"
)

// rolePrecedence ranks the roles a token may carry; the strongest one wins.
var rolePrecedence = map[string]int{
	"student": 1,
	"asisten": 2,
	"admin":   3,
}

// JWTProtected validates HS256 bearer tokens and stores user_id and user_role in the locals.
// Browsers cannot set headers on websocket upgrades, so those requests may pass the token
// in the access_token query parameter instead.
func JWTProtected(secret string) fiber.Handler {
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}

	return func(c *fiber.Ctx) error {
		tokenString, err := bearerToken(c)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		userID, ok := userIDFromClaims(claims)
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "token has no subject")
		}
		c.Locals("user_id", userID)
		if role := roleFromClaims(claims); role != "" {
			c.Locals("user_role", role)
		}

		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authorization := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if authorization == "" {
		if websocket.IsWebSocketUpgrade(c) {
			if token := strings.TrimSpace(c.Query("access_token")); token != "" {
				return token, nil
			}
		}
		return "", errors.New("authorization header missing")
	}

	scheme, token, found := strings.Cut(authorization, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", errors.New("invalid authorization header")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("invalid token")
	}
	return token, nil
}

func userIDFromClaims(claims jwt.MapClaims) (uint, bool) {
	for _, key := range []string{"sub", "user_id", "id"} {
		value, ok := claims[key]
		if !ok {
			continue
		}
		if id, err := parseUserID(value); err == nil && id > 0 {
			return id, true
		}
	}
	return 0, false
}

func parseUserID(value interface{}) (uint, error) {
	switch v := value.(type) {
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return 0, fmt.Errorf("invalid subject %v", v)
		}
		return uint(v), nil
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, err
		}
		return uint(parsed), nil
	default:
		return 0, fmt.Errorf("unsupported subject type %T", value)
	}
}

// roleFromClaims reads "role" or "roles" and returns the highest ranked known role,
// falling back to the first non-empty value.
func roleFromClaims(claims jwt.MapClaims) string {
	var candidates []string
	for _, key := range []string{"role", "roles"} {
		switch v := claims[key].(type) {
		case string:
			candidates = append(candidates, v)
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok {
					candidates = append(candidates, s)
				}
			}
		}
	}

	best, bestRank := "", 0
	for _, candidate := range candidates {
		role := strings.ToLower(strings.TrimSpace(candidate))
		if role == "" {
			continue
		}
		if best == "" {
			best = role
		}
		if rank := rolePrecedence[role]; rank > bestRank {
			best, bestRank = role, rank
		}
	}
	return best
}
