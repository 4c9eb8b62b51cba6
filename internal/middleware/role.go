package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireGroup rejects agents whose group is not one of groups with 403.
// It runs after JWTAuth.
func RequireGroup(groups ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(groups))
	for _, g := range groups {
		allowed[g] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !allowed[AgentGroup(c)] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
