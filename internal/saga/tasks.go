package saga

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/iliyamo/cinema-order-saga/internal/errs"
	"github.com/iliyamo/cinema-order-saga/internal/model"
	"github.com/iliyamo/cinema-order-saga/internal/queue"
	"github.com/iliyamo/cinema-order-saga/internal/task"
)

func marshal(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("saga: encode task data: %w", err)
	}
	return b, nil
}

// RegisterTasks binds the saga's compensation and follow-up handlers.
func (s *Service) RegisterTasks(r *task.Registry) {
	r.Register(model.TaskCancelSeatReservation, withData(s.cancelSeatReservation))
	r.Register(model.TaskCancelCreditCard, withData(s.cancelCreditCard))
	r.Register(model.TaskVoidTransaction, withData(s.voidTransaction))
	r.Register(model.TaskConfirmSeatReservation, withData(s.confirmSeatReservation))
	r.Register(model.TaskSendOrderEvent, withData(s.sendOrderEvent))
}

func withData[T any](fn func(context.Context, T) error) task.Handler {
	return func(ctx context.Context, raw json.RawMessage) error {
		var data T
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("decode task data: %w", err)
		}
		return fn(ctx, data)
	}
}

// ExpireTransactions expires up to limit overdue transactions and schedules
// their compensation.  It returns how many were expired.
func (s *Service) ExpireTransactions(ctx context.Context, limit int) (int, error) {
	ids, err := s.Transactions.ExpireDue(ctx, s.Clock.Now(), limit)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.enqueue(ctx, model.TaskVoidTransaction, model.TransactionTaskData{TransactionID: id}); err != nil {
			s.Logger.Printf("schedule %s for %s: %v", model.TaskVoidTransaction, id, err)
		}
	}
	return len(ids), nil
}

// cancelSeatReservation releases what a seat reservation action holds and
// marks it canceled.  Running it again finds nothing left to release.
func (s *Service) cancelSeatReservation(ctx context.Context, d model.CancelActionData) error {
	a, err := s.Actions.FindByID(ctx, model.ActionSeatReservation, d.ActionID)
	if err != nil {
		return err
	}
	return s.releaseSeats(ctx, d.TransactionID, a)
}

// releaseSeats frees the seats and admission slots of one seat reservation
// action.  An action that never completed is released by its id, which is
// the hold token it reserved under.
func (s *Service) releaseSeats(ctx context.Context, txID string, a *model.AuthorizeAction) error {
	var showID uint64
	var keys []string
	holdToken := a.ID
	switch {
	case a.Result != nil:
		r, ok := a.Result.(model.SeatReservationResult)
		if !ok {
			return fmt.Errorf("seat reservation %s has result %T", a.ID, a.Result)
		}
		showID, keys = r.ShowID, r.AdmissionKeys
		if r.HoldToken != "" {
			holdToken = r.HoldToken
		}
	case a.Object != nil:
		o, ok := a.Object.(model.SeatReservationObject)
		if !ok {
			return fmt.Errorf("seat reservation %s has object %T", a.ID, a.Object)
		}
		showID = o.ShowID
	}
	if showID != 0 {
		if err := s.Inventory.Release(ctx, showID, holdToken); err != nil {
			return err
		}
	}
	owner := slotHolder(txID, a.ID)
	for _, k := range keys {
		// The slot may already belong to someone else once released.
		holder, err := s.Limiter.Holder(ctx, k)
		if err != nil {
			return err
		}
		if holder == owner {
			if err := s.Limiter.Unlock(ctx, k); err != nil {
				return err
			}
		}
	}
	if a.Status != model.ActionCanceled {
		if _, err := s.Actions.Cancel(ctx, model.ActionSeatReservation, a.ID, txID); err != nil {
			return err
		}
	}
	return nil
}

// cancelCreditCard voids the card hold of an action.  A failing void is
// logged and not retried: the hold lapses at the processor on its own.
func (s *Service) cancelCreditCard(ctx context.Context, d model.CancelActionData) error {
	a, err := s.Actions.FindByID(ctx, model.ActionCreditCard, d.ActionID)
	if err != nil {
		return err
	}
	return s.voidCard(ctx, d.TransactionID, a)
}

func (s *Service) voidCard(ctx context.Context, txID string, a *model.AuthorizeAction) error {
	if r, ok := a.Result.(model.CreditCardResult); ok && r.TraceID != "" {
		if err := s.Payments.Void(ctx, r.TraceID); err != nil {
			s.Logger.Printf("void card hold %s of action %s failed, giving up: %v", r.TraceID, a.ID, err)
		}
	}
	if a.Status != model.ActionCanceled {
		if _, err := s.Actions.Cancel(ctx, model.ActionCreditCard, a.ID, txID); err != nil {
			return err
		}
	}
	return nil
}

// voidTransaction compensates every action of an expired transaction that
// may still hold something.  Canceled actions are included since their own
// compensation may never have been scheduled; releasing twice is a no-op.
func (s *Service) voidTransaction(ctx context.Context, d model.TransactionTaskData) error {
	t, err := s.Transactions.FindByID(ctx, d.TransactionID)
	if err != nil {
		return err
	}
	if t.Status != model.TransactionExpired {
		return nil
	}
	actions, err := s.Actions.SearchByPurpose(ctx, model.ActionQuery{Purpose: purposeOf(t)})
	if err != nil {
		return err
	}
	var errList []error
	for _, a := range actions {
		if a.Status == model.ActionFailed {
			continue
		}
		switch a.TypeOf {
		case model.ActionSeatReservation:
			err = s.releaseSeats(ctx, t.ID, a)
		case model.ActionCreditCard:
			err = s.voidCard(ctx, t.ID, a)
		default:
			err = errs.Argument("unknown action type %q", a.TypeOf)
		}
		if err != nil {
			errList = append(errList, fmt.Errorf("%s %s: %w", a.TypeOf, a.ID, err))
		}
	}
	return errors.Join(errList...)
}

// confirmSeatReservation turns the seats held by the seat reservation the
// order was built from into sold seats.  Holds of other actions of the
// transaction are left to expire.
func (s *Service) confirmSeatReservation(ctx context.Context, d model.TransactionTaskData) error {
	t, err := s.Transactions.FindByID(ctx, d.TransactionID)
	if err != nil {
		return err
	}
	if t.Status != model.TransactionConfirmed || t.Result == nil {
		return nil
	}
	for _, ref := range t.AuthorizeActions {
		if ref.TypeOf != model.ActionSeatReservation || ref.Status != model.ActionCompleted {
			continue
		}
		a, err := s.Actions.FindByID(ctx, model.ActionSeatReservation, ref.ID)
		if err != nil {
			return err
		}
		holdToken := a.ID
		if r, ok := a.Result.(model.SeatReservationResult); ok && r.HoldToken != "" {
			holdToken = r.HoldToken
		}
		return s.Inventory.Confirm(ctx, t.Result.Order.ShowID, holdToken)
	}
	return errs.NotFound("completed seat reservation of transaction %s", t.ID)
}

func (s *Service) sendOrderEvent(ctx context.Context, d model.TransactionTaskData) error {
	t, err := s.Transactions.FindByID(ctx, d.TransactionID)
	if err != nil {
		return err
	}
	if t.Status != model.TransactionConfirmed || t.Result == nil {
		return nil
	}
	return s.Events.PublishOrderConfirmed(ctx, queue.NewOrderConfirmedEvent(t.ID, t.Result.Order))
}
