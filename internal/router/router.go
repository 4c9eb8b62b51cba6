// Package router registers the HTTP routes of the order API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-order-saga/internal/handler"
	"github.com/iliyamo/cinema-order-saga/internal/middleware"
)

// RegisterRoutes registers the unauthenticated routes.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// Options configures the protected route group.
type Options struct {
	JWTSecret   string
	RateLimit   echo.MiddlewareFunc // nil disables the token bucket
	StaffGroups []string            // groups allowed to read admission slots
}

// RegisterTransactions registers the order placement routes under /v1.
// Every route requires a bearer token; the token bucket runs after
// authentication so it can key on the agent.
func RegisterTransactions(e *echo.Echo, h *handler.TransactionHandler, opts Options) {
	mw := []echo.MiddlewareFunc{middleware.JWTAuth(opts.JWTSecret)}
	if opts.RateLimit != nil {
		mw = append(mw, opts.RateLimit)
	}
	g := e.Group("/v1", mw...)

	g.POST("/transactions", h.Start)
	g.GET("/transactions/:id", h.Get)
	g.PUT("/transactions/:id/customer-contact", h.SetCustomerContact)
	g.POST("/transactions/:id/actions/seat-reservation", h.AuthorizeSeatReservation)
	g.POST("/transactions/:id/actions/credit-card", h.AuthorizeCreditCard)
	g.DELETE("/transactions/:id/actions/:type/:actionId", h.CancelAuthorization)
	g.POST("/transactions/:id/confirm", h.Confirm)
	g.POST("/transactions/:id/access-token", h.IssueAccessToken)

	g.GET("/admission/holder", h.AdmissionHolder, middleware.RequireGroup(opts.StaffGroups...))
}
