package saga

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/cinema-order-saga/internal/checksum"
	"github.com/iliyamo/cinema-order-saga/internal/config"
	"github.com/iliyamo/cinema-order-saga/internal/errs"
	"github.com/iliyamo/cinema-order-saga/internal/model"
	"github.com/iliyamo/cinema-order-saga/internal/token"
)

// confirmationSequence partitions confirmation codes per show date.
const confirmationSequence = "confirmation_no"

// ConfirmResult is the minted order plus a capability over its tickets.
// AccessToken is nil when issuing it failed after the order committed.
type ConfirmResult struct {
	Transaction *model.Transaction
	Order       model.Order
	AccessToken *token.AccessToken
}

// Confirm closes the transaction into an order paid with method.
func (s *Service) Confirm(ctx context.Context, txID, agentID string, method model.PaymentMethod) (*ConfirmResult, error) {
	res, err := s.confirm(ctx, txID, agentID, method)
	if err != nil {
		s.failed.Add(ctx, 1)
		return nil, err
	}
	s.confirmed.Add(ctx, 1)
	return res, nil
}

func (s *Service) confirm(ctx context.Context, txID, agentID string, method model.PaymentMethod) (*ConfirmResult, error) {
	now := s.Clock.Now()
	t, err := s.GetTransaction(ctx, txID, agentID)
	if err != nil {
		return nil, err
	}
	switch t.Status {
	case model.TransactionInProgress:
	case model.TransactionConfirmed:
		return nil, errs.AlreadyInUse("transaction %s already confirmed", txID)
	default:
		return nil, errs.NotFound("transaction %s in progress", txID)
	}
	if !now.Before(t.Expires) {
		return nil, errs.Argument("transaction %s expired at %s", txID, t.Expires)
	}

	all, err := s.Actions.SearchByPurpose(ctx, model.ActionQuery{Purpose: purposeOf(t)})
	if err != nil {
		return nil, err
	}
	// Only actions that ended before this call started count; one that
	// completes while we run is left for the next attempt.
	var ended []*model.AuthorizeAction
	for _, a := range all {
		if a.EndDate != nil && a.EndDate.Before(now) {
			ended = append(ended, a)
		}
	}
	var completed []*model.AuthorizeAction
	for _, a := range ended {
		if a.Status == model.ActionCompleted {
			completed = append(completed, a)
		}
	}

	if err := CanBeClosed(s.Policy, t.Agent, method, completed); err != nil {
		return nil, err
	}

	seat, err := singleSeatReservation(completed)
	if err != nil {
		return nil, err
	}

	code, showDate, err := s.mintCode(ctx, seat.ShowStartsAt)
	if err != nil {
		return nil, err
	}
	order := s.buildOrder(t, seat, method, now)
	order.OrderNumber = showDate.Format("060102") + "-" + code
	order.ConfirmationNumber = showDate.Format("20060102") + code

	refs := make([]model.ActionRef, 0, len(ended))
	for _, a := range ended {
		refs = append(refs, model.ActionRef{ID: a.ID, TypeOf: a.TypeOf, Status: a.Status})
	}
	params := model.ConfirmParams{
		TransactionID:    t.ID,
		AuthorizeActions: refs,
		PaymentMethod:    method,
		Result:           model.TransactionResult{Order: order},
		EndDate:          now,
	}
	if err := s.Transactions.Confirm(ctx, params); err != nil {
		return nil, err
	}

	t.Status = model.TransactionConfirmed
	t.EndDate = &params.EndDate
	t.PaymentMethod = method
	t.AuthorizeActions = refs
	t.Result = &params.Result

	// The order is committed; what follows is best effort.
	data := model.TransactionTaskData{TransactionID: t.ID}
	for _, name := range []model.TaskName{model.TaskConfirmSeatReservation, model.TaskSendOrderEvent} {
		if err := s.enqueue(ctx, name, data); err != nil {
			s.Logger.Printf("schedule %s for %s: %v", name, t.ID, err)
		}
	}
	out := &ConfirmResult{Transaction: t, Order: order}
	if tok, err := s.Tokens.Issue(ctx, order.ReservedTicketIDs()); err != nil {
		s.Logger.Printf("issue access token for %s: %v", t.ID, err)
	} else {
		out.AccessToken = &tok
	}
	return out, nil
}

// CanBeClosed applies the payment method rules to the completed actions of
// a transaction started by agent.
func CanBeClosed(p config.Policy, agent model.Agent, method model.PaymentMethod, completed []*model.AuthorizeAction) error {
	switch {
	case method == model.PaymentCash:
		return nil
	case method == model.PaymentCreditCard:
		cards := cardActions(completed, p.PaymentReconcile)
		if len(cards) == 0 {
			return errs.Argument("credit card payment requires a completed card authorization")
		}
		if p.IsPublic(agent.Group) {
			return reconcile(completed, cards)
		}
		return nil
	case p.IsRestricted(method):
		if !p.IsStaff(agent.Group) {
			return errs.Argument("payment method %s is limited to staff", method)
		}
		return nil
	}
	return errs.Argument("unsupported payment method %q", method)
}

// cardActions picks the card authorizations that take part in the price
// check.
func cardActions(completed []*model.AuthorizeAction, policy config.ReconcilePolicy) []*model.AuthorizeAction {
	var cards []*model.AuthorizeAction
	for _, a := range completed {
		if a.TypeOf == model.ActionCreditCard {
			cards = append(cards, a)
		}
	}
	if policy != config.ReconcileLatest || len(cards) <= 1 {
		return cards
	}
	sort.SliceStable(cards, func(i, j int) bool { return cards[i].EndDate.Before(*cards[j].EndDate) })
	return cards[len(cards)-1:]
}

// reconcile requires the customer's authorized amount to equal the seller's
// asking price exactly.
func reconcile(completed, cards []*model.AuthorizeAction) error {
	paid := decimal.Zero
	for _, a := range cards {
		if a.Agent.TypeOf == model.PartyCustomer && a.Result != nil {
			paid = paid.Add(a.Result.AuthorizedAmount())
		}
	}
	asked := decimal.Zero
	for _, a := range completed {
		if a.Agent.TypeOf == model.PartySeller && a.Result != nil {
			asked = asked.Add(a.Result.AuthorizedAmount())
		}
	}
	if !paid.Equal(asked) {
		return errs.Argument("authorized amount %s does not match price %s", paid, asked)
	}
	return nil
}

func singleSeatReservation(completed []*model.AuthorizeAction) (model.SeatReservationResult, error) {
	var found []model.SeatReservationResult
	for _, a := range completed {
		if a.TypeOf != model.ActionSeatReservation {
			continue
		}
		r, ok := a.Result.(model.SeatReservationResult)
		if !ok {
			return model.SeatReservationResult{}, fmt.Errorf("saga: seat reservation %s has result %T", a.ID, a.Result)
		}
		found = append(found, r)
	}
	if len(found) != 1 {
		return model.SeatReservationResult{}, errs.Argument("exactly one completed seat reservation required, found %d", len(found))
	}
	return found[0], nil
}

// mintCode draws the next number of the show date's sequence and encodes
// it.  It returns the code and the show start in the order calendar.
func (s *Service) mintCode(ctx context.Context, showStart time.Time) (string, time.Time, error) {
	local := showStart.In(s.Location)
	no, err := s.Sequences.Increment(ctx, confirmationSequence, local.Format("20060102"))
	if err != nil {
		return "", time.Time{}, err
	}
	code, err := checksum.Encode(no, checksum.DefaultWidth)
	if err != nil {
		return "", time.Time{}, err
	}
	return code, local, nil
}

func (s *Service) buildOrder(t *model.Transaction, seat model.SeatReservationResult, method model.PaymentMethod, now time.Time) model.Order {
	offers := make([]model.Offer, 0, len(seat.Tickets))
	price := decimal.Zero
	for _, tk := range seat.Tickets {
		offers = append(offers, model.Offer{
			TicketID:   tk.TicketID,
			SeatNumber: tk.SeatNumber,
			Section:    tk.Section,
			TicketType: tk.TicketType,
			Price:      tk.UnitPrice,
		})
		price = price.Add(tk.UnitPrice)
	}
	currency := seat.PriceCurrency
	if currency == "" {
		currency = s.Policy.Currency
	}
	return model.Order{
		Seller:          t.Seller,
		Customer:        t.Agent,
		CustomerContact: t.CustomerContact,
		ShowID:          seat.ShowID,
		ShowStartsAt:    seat.ShowStartsAt,
		AcceptedOffers:  offers,
		Price:           price,
		PriceCurrency:   currency,
		PaymentMethod:   method,
		OrderDate:       now,
	}
}

// IssueAccessToken issues a fresh capability over the tickets of a
// confirmed transaction.
func (s *Service) IssueAccessToken(ctx context.Context, txID, agentID string) (*token.AccessToken, error) {
	t, err := s.GetTransaction(ctx, txID, agentID)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TransactionConfirmed || t.Result == nil {
		return nil, errs.NotFound("confirmed transaction %s", txID)
	}
	tok, err := s.Tokens.Issue(ctx, t.Result.Order.ReservedTicketIDs())
	if err != nil {
		return nil, err
	}
	return &tok, nil
}
