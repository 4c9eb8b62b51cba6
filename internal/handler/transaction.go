package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/cinema-order-saga/internal/middleware"
	"github.com/iliyamo/cinema-order-saga/internal/model"
	"github.com/iliyamo/cinema-order-saga/internal/saga"
	"github.com/iliyamo/cinema-order-saga/internal/token"
)

// OrderSaga is the part of saga.Service the HTTP surface drives.
type OrderSaga interface {
	Start(ctx context.Context, p saga.StartParams) (*model.Transaction, error)
	GetTransaction(ctx context.Context, id, agentID string) (*model.Transaction, error)
	SetCustomerContact(ctx context.Context, id, agentID string, c model.CustomerContact) (*model.CustomerContact, error)
	AuthorizeSeatReservation(ctx context.Context, txID, agentID string, showID uint64, seatIDs []uint64) (*model.AuthorizeAction, error)
	AuthorizeCreditCard(ctx context.Context, txID, agentID string, amount decimal.Decimal, methodCode string) (*model.AuthorizeAction, error)
	CancelAuthorization(ctx context.Context, txID, agentID string, typeOf model.ActionType, actionID string) (*model.AuthorizeAction, error)
	Confirm(ctx context.Context, txID, agentID string, method model.PaymentMethod) (*saga.ConfirmResult, error)
	IssueAccessToken(ctx context.Context, txID, agentID string) (*token.AccessToken, error)
	AdmissionHolder(ctx context.Context, category string, startsAt time.Time) (string, error)
}

// TransactionHandler exposes the order placement saga over HTTP.  Every
// method runs behind JWTAuth; the authenticated agent is the caller the
// saga checks ownership against.
type TransactionHandler struct {
	Saga OrderSaga
}

func NewTransactionHandler(s OrderSaga) *TransactionHandler {
	if s == nil {
		panic("nil saga passed to NewTransactionHandler")
	}
	return &TransactionHandler{Saga: s}
}

// Start handles POST /v1/transactions.
func (h *TransactionHandler) Start(c echo.Context) error {
	var body struct {
		Seller   model.Seller `json:"seller"`
		Passport string       `json:"passport"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	t, err := h.Saga.Start(c.Request().Context(), saga.StartParams{
		Agent: model.Agent{
			ID:    middleware.AgentID(c),
			Group: middleware.AgentGroup(c),
			Name:  middleware.AgentName(c),
		},
		Seller:   body.Seller,
		Passport: strings.TrimSpace(body.Passport),
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

// Get handles GET /v1/transactions/:id.
func (h *TransactionHandler) Get(c echo.Context) error {
	t, err := h.Saga.GetTransaction(c.Request().Context(), c.Param("id"), middleware.AgentID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// SetCustomerContact handles PUT /v1/transactions/:id/customer-contact.
func (h *TransactionHandler) SetCustomerContact(c echo.Context) error {
	var body model.CustomerContact
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	contact, err := h.Saga.SetCustomerContact(c.Request().Context(), c.Param("id"), middleware.AgentID(c), body)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, contact)
}

// AuthorizeSeatReservation handles POST /v1/transactions/:id/actions/seat-reservation.
// The body names the show and the seats to hold.
func (h *TransactionHandler) AuthorizeSeatReservation(c echo.Context) error {
	var body struct {
		ShowID  uint64   `json:"show_id"`
		SeatIDs []uint64 `json:"seat_ids"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.ShowID == 0 || len(body.SeatIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "show_id and seat_ids are required"})
	}
	a, err := h.Saga.AuthorizeSeatReservation(c.Request().Context(), c.Param("id"), middleware.AgentID(c), body.ShowID, body.SeatIDs)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

// AuthorizeCreditCard handles POST /v1/transactions/:id/actions/credit-card.
func (h *TransactionHandler) AuthorizeCreditCard(c echo.Context) error {
	var body struct {
		Amount     decimal.Decimal `json:"amount"`
		MethodCode string          `json:"method_code"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	a, err := h.Saga.AuthorizeCreditCard(c.Request().Context(), c.Param("id"), middleware.AgentID(c), body.Amount, body.MethodCode)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

// actionTypes maps the path segment of an action to its type.
var actionTypes = map[string]model.ActionType{
	"seat-reservation": model.ActionSeatReservation,
	"credit-card":      model.ActionCreditCard,
}

// CancelAuthorization handles DELETE /v1/transactions/:id/actions/:type/:actionId.
func (h *TransactionHandler) CancelAuthorization(c echo.Context) error {
	typeOf, ok := actionTypes[c.Param("type")]
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown action type"})
	}
	a, err := h.Saga.CancelAuthorization(c.Request().Context(), c.Param("id"), middleware.AgentID(c), typeOf, c.Param("actionId"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// Confirm handles POST /v1/transactions/:id/confirm.  The response carries
// the order and, when it could be issued, the ticket access token.
func (h *TransactionHandler) Confirm(c echo.Context) error {
	var body struct {
		PaymentMethod model.PaymentMethod `json:"payment_method"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.PaymentMethod == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "payment_method is required"})
	}
	res, err := h.Saga.Confirm(c.Request().Context(), c.Param("id"), middleware.AgentID(c), body.PaymentMethod)
	if err != nil {
		return fail(c, err)
	}
	out := echo.Map{"transaction_id": res.Transaction.ID, "order": res.Order}
	if res.AccessToken != nil {
		out["access_token"] = res.AccessToken.Token
		out["access_token_expires_at"] = res.AccessToken.Exp
	}
	return c.JSON(http.StatusOK, out)
}

// IssueAccessToken handles POST /v1/transactions/:id/access-token.
func (h *TransactionHandler) IssueAccessToken(c echo.Context) error {
	tok, err := h.Saga.IssueAccessToken(c.Request().Context(), c.Param("id"), middleware.AgentID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"access_token": tok.Token, "expires_at": tok.Exp})
}

// AdmissionHolder handles GET /v1/admission/holder?category=&startsAt=.
// startsAt is RFC 3339.  An empty holder means the slot is free.
func (h *TransactionHandler) AdmissionHolder(c echo.Context) error {
	category := strings.TrimSpace(c.QueryParam("category"))
	if category == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "category is required"})
	}
	startsAt, err := time.Parse(time.RFC3339, c.QueryParam("startsAt"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "startsAt must be RFC 3339"})
	}
	holder, err := h.Saga.AdmissionHolder(c.Request().Context(), category, startsAt)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"category": category, "holder": holder})
}
