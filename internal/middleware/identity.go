package middleware

import "github.com/labstack/echo/v4"

// AgentID returns the authenticated agent id, or "" outside JWTAuth.
func AgentID(c echo.Context) string { return str(c, AgentIDKey) }

// AgentGroup returns the authenticated agent's group.
func AgentGroup(c echo.Context) string { return str(c, AgentGroupKey) }

// AgentName returns the optional display name carried by the token.
func AgentName(c echo.Context) string { return str(c, AgentNameKey) }

func str(c echo.Context, key string) string {
	if s, ok := c.Get(key).(string); ok {
		return s
	}
	return ""
}
