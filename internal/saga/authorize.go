package saga

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/cinema-order-saga/internal/errs"
	"github.com/iliyamo/cinema-order-saga/internal/model"
	"github.com/iliyamo/cinema-order-saga/internal/ratelimit"
)

func purposeOf(t *model.Transaction) model.Purpose {
	return model.Purpose{TypeOf: t.TypeOf, ID: t.ID}
}

func sellerParty(t *model.Transaction) model.Party {
	return model.Party{TypeOf: model.PartySeller, ID: t.Seller.ID, Name: t.Seller.Name}
}

func customerParty(t *model.Transaction) model.Party {
	return model.Party{TypeOf: model.PartyCustomer, ID: t.Agent.ID, Name: t.Agent.Name}
}

// AuthorizeSeatReservation holds seats of a show for the transaction.  The
// seller is the agent of the action: the price it records is what the
// seller asks for.  Seats in a category with an admission limit also take
// the category's slot for the show's window; a held slot fails the whole
// step with RateLimitExceeded and nothing stays held.
func (s *Service) AuthorizeSeatReservation(ctx context.Context, txID, agentID string, showID uint64, seatIDs []uint64) (*model.AuthorizeAction, error) {
	t, err := s.inProgress(ctx, txID, agentID)
	if err != nil {
		return nil, err
	}
	if showID == 0 || len(seatIDs) == 0 {
		return nil, errs.Argument("show and seats are required")
	}
	a, err := s.Actions.Start(ctx, &model.AuthorizeAction{
		TypeOf:    model.ActionSeatReservation,
		Purpose:   purposeOf(t),
		Agent:     sellerParty(t),
		Recipient: customerParty(t),
		Object:    model.SeatReservationObject{ShowID: showID, SeatIDs: seatIDs},
	})
	if err != nil {
		return nil, err
	}

	res, err := s.Inventory.Reserve(ctx, model.ReserveRequest{
		Holder:    t.ID,
		HoldToken: a.ID,
		ShowID:    showID,
		SeatIDs:   seatIDs,
		ExpiresAt: t.Expires,
	})
	if err != nil {
		s.giveUp(ctx, a, err)
		return nil, err
	}

	keys, err := s.lockAdmission(ctx, slotHolder(t.ID, a.ID), res)
	if err != nil {
		if rerr := s.Inventory.Release(ctx, showID, res.HoldToken); rerr != nil {
			s.Logger.Printf("release seats of %s after admission failure: %v", t.ID, rerr)
		}
		s.giveUp(ctx, a, err)
		return nil, err
	}

	price := decimal.Zero
	for _, tk := range res.Tickets {
		price = price.Add(tk.UnitPrice)
	}
	done, err := s.Actions.Complete(ctx, model.ActionSeatReservation, a.ID, model.SeatReservationResult{
		ShowID:        res.ShowID,
		ShowStartsAt:  res.StartsAt,
		HoldToken:     res.HoldToken,
		Tickets:       res.Tickets,
		Price:         price,
		PriceCurrency: s.Policy.Currency,
		AdmissionKeys: keys,
	})
	if err != nil {
		s.unlock(ctx, keys)
		if rerr := s.Inventory.Release(ctx, showID, res.HoldToken); rerr != nil {
			s.Logger.Printf("release seats of %s after complete failure: %v", t.ID, rerr)
		}
		s.giveUp(ctx, a, err)
		return nil, err
	}
	return done, nil
}

// lockAdmission takes one slot per limited category among the reserved
// tickets.  On failure every slot taken so far is released.
func (s *Service) lockAdmission(ctx context.Context, holder string, res *model.Reservation) ([]string, error) {
	ttl := res.StartsAt.Sub(s.Clock.Now())
	seen := map[string]bool{}
	var keys []string
	for _, tk := range res.Tickets {
		unit, limited := s.Policy.AdmissionUnit(tk.Category)
		if !limited || seen[tk.Category] {
			continue
		}
		seen[tk.Category] = true
		key := s.Limiter.Key(ratelimit.WindowAt(tk.Category, res.StartsAt, unit))
		if err := s.Limiter.Lock(ctx, key, holder, ttl); err != nil {
			s.unlock(ctx, keys)
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *Service) unlock(ctx context.Context, keys []string) {
	for _, k := range keys {
		if err := s.Limiter.Unlock(ctx, k); err != nil {
			s.Logger.Printf("unlock admission slot %s: %v", k, err)
		}
	}
}

func (s *Service) giveUp(ctx context.Context, a *model.AuthorizeAction, cause error) {
	if _, err := s.Actions.GiveUp(ctx, a.TypeOf, a.ID, cause); err != nil {
		s.Logger.Printf("give up %s action %s: %v", a.TypeOf, a.ID, err)
	}
}

// AuthorizeCreditCard holds amount on the customer's card.  The customer is
// the agent of the action.
func (s *Service) AuthorizeCreditCard(ctx context.Context, txID, agentID string, amount decimal.Decimal, methodCode string) (*model.AuthorizeAction, error) {
	t, err := s.inProgress(ctx, txID, agentID)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, errs.Argument("amount must be positive, got %s", amount)
	}
	currency := s.Policy.Currency
	a, err := s.Actions.Start(ctx, &model.AuthorizeAction{
		TypeOf:    model.ActionCreditCard,
		Purpose:   purposeOf(t),
		Agent:     customerParty(t),
		Recipient: sellerParty(t),
		Object:    model.CreditCardObject{Amount: amount, Currency: currency, MethodCode: methodCode},
	})
	if err != nil {
		return nil, err
	}
	traceID, err := s.Payments.Authorize(ctx, amount, currency, methodCode)
	if err != nil {
		s.giveUp(ctx, a, err)
		return nil, err
	}
	done, err := s.Actions.Complete(ctx, model.ActionCreditCard, a.ID, model.CreditCardResult{
		Amount: amount, Currency: currency, TraceID: traceID,
	})
	if err != nil {
		if verr := s.Payments.Void(ctx, traceID); verr != nil {
			s.Logger.Printf("void card hold %s: %v", traceID, verr)
		}
		return nil, err
	}
	return done, nil
}

// CancelAuthorization cancels one action of the transaction and schedules
// the compensation that releases what it held.  When scheduling fails the
// action stays Canceled and the expiry sweep compensates it.
func (s *Service) CancelAuthorization(ctx context.Context, txID, agentID string, typeOf model.ActionType, actionID string) (*model.AuthorizeAction, error) {
	t, err := s.inProgress(ctx, txID, agentID)
	if err != nil {
		return nil, err
	}
	taskName, err := compensationFor(typeOf)
	if err != nil {
		return nil, err
	}
	a, err := s.Actions.Cancel(ctx, typeOf, actionID, t.ID)
	if err != nil {
		return nil, err
	}
	data := model.CancelActionData{TransactionID: t.ID, ActionID: a.ID, TypeOf: typeOf}
	if err := s.enqueue(ctx, taskName, data); err != nil {
		return nil, fmt.Errorf("saga: schedule %s: %w", taskName, err)
	}
	return a, nil
}

func compensationFor(typeOf model.ActionType) (model.TaskName, error) {
	switch typeOf {
	case model.ActionSeatReservation:
		return model.TaskCancelSeatReservation, nil
	case model.ActionCreditCard:
		return model.TaskCancelCreditCard, nil
	}
	return "", errs.Argument("unknown action type %q", typeOf)
}
