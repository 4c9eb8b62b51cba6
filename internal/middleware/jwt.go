package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	AgentIDKey    = "agent_id"
	AgentGroupKey = "agent_group"
	AgentNameKey  = "agent_name"
)

// JWTAuth validates a Bearer access token and injects the agent it names
// into the request context.  The subject is the agent id and the "group"
// claim its agent group; both are required.  Handlers read them with
// AgentID and AgentGroup.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}
			sub, _ := claims["sub"].(string)
			group, _ := claims["group"].(string)
			if sub == "" || group == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token names no agent"})
			}
			name, _ := claims["name"].(string)

			c.Set(AgentIDKey, sub)
			c.Set(AgentGroupKey, group)
			c.Set(AgentNameKey, name)
			return next(c)
		}
	}
}
