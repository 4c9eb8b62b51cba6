// Package payment holds credit card authorizations for the saga.  The only
// gateway shipped is Offline, which records holds locally; a card processor
// plugs in behind the same interface.
package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/cinema-order-saga/internal/errs"
)

// Gateway places and voids amount holds on a payment method.
type Gateway interface {
	// Authorize holds amount and returns the gateway trace id of the hold.
	Authorize(ctx context.Context, amount decimal.Decimal, currency, methodCode string) (string, error)
	// Void releases a hold.  Voiding an unknown or already voided hold is
	// not an error.
	Void(ctx context.Context, traceID string) error
}

// Offline is an in-process gateway that accepts every positive amount.
type Offline struct {
	mu    sync.Mutex
	holds map[string]decimal.Decimal
}

func NewOffline() *Offline { return &Offline{holds: map[string]decimal.Decimal{}} }

func (g *Offline) Authorize(_ context.Context, amount decimal.Decimal, currency, methodCode string) (string, error) {
	if !amount.IsPositive() {
		return "", errs.Argument("amount must be positive, got %s", amount)
	}
	if currency == "" {
		return "", errs.Argument("currency is required")
	}
	id := uuid.NewString()
	g.mu.Lock()
	g.holds[id] = amount
	g.mu.Unlock()
	return id, nil
}

func (g *Offline) Void(_ context.Context, traceID string) error {
	g.mu.Lock()
	delete(g.holds, traceID)
	g.mu.Unlock()
	return nil
}

// Held reports whether a hold is still outstanding.
func (g *Offline) Held(traceID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.holds[traceID]
	return ok
}
