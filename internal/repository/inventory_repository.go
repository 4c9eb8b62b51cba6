package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/cinema-order-saga/internal/clock"
	"github.com/iliyamo/cinema-order-saga/internal/errs"
	"github.com/iliyamo/cinema-order-saga/internal/model"
)

// InventoryRepo holds, releases and confirms show seats for transactions.
// Each operation runs in one database transaction over shows, show_seats
// and seat_holds; release and confirm are safe to repeat.
type InventoryRepo struct {
	db    *sql.DB
	shows *ShowRepo
	seats *ShowSeatRepo
	holds *SeatHoldRepo
	clock clock.Clock
}

func NewInventoryRepo(db *sql.DB, clk clock.Clock) *InventoryRepo {
	return &InventoryRepo{
		db:    db,
		shows: NewShowRepo(db),
		seats: NewShowSeatRepo(db),
		holds: NewSeatHoldRepo(db),
		clock: clk,
	}
}

// Reserve holds every requested seat or none of them.
func (r *InventoryRepo) Reserve(ctx context.Context, req model.ReserveRequest) (*model.Reservation, error) {
	// deduplicate seat IDs to avoid duplicate holds
	unique := make([]uint64, 0, len(req.SeatIDs))
	seen := make(map[uint64]struct{}, len(req.SeatIDs))
	for _, id := range req.SeatIDs {
		if _, ok := seen[id]; ok || id == 0 {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil, errs.Argument("no valid seat IDs provided")
	}
	now := r.clock.Now()

	var out *model.Reservation
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		show, err := r.shows.GetByIDTx(ctx, tx, req.ShowID)
		if err != nil {
			return err
		}
		if show.Status != model.ShowScheduled {
			return errs.Argument("show %d is %s", show.ID, show.Status)
		}
		if !show.StartsAt.After(now) {
			return errs.Argument("show %d already started", show.ID)
		}

		expired, err := r.holds.ExpireHoldsTx(ctx, tx, show.ID, now)
		if err != nil {
			return err
		}
		if err := r.seats.BulkUpdateStatusTx(ctx, tx, show.ID, expired, model.SeatFree); err != nil {
			return err
		}

		holdable, err := r.seats.FilterHoldableSeatsTx(ctx, tx, show.ID, unique)
		if err != nil {
			return err
		}
		if len(holdable) != len(unique) {
			return errs.Argument("seats unavailable: %v", unavailable(unique, holdable))
		}

		holds, err := GenerateHoldRecords(req.Holder, req.HoldToken, show.ID, unique, req.ExpiresAt)
		if err != nil {
			return err
		}
		if err := r.holds.CreateMultipleTx(ctx, tx, holds); err != nil {
			if isDuplicate(err, "") {
				return errs.Argument("seats unavailable")
			}
			return err
		}
		if err := r.seats.BulkUpdateStatusTx(ctx, tx, show.ID, unique, model.SeatHeld); err != nil {
			return err
		}

		out = &model.Reservation{ShowID: show.ID, StartsAt: show.StartsAt, HoldToken: holds[0].HoldToken}
		for i, ss := range holdable {
			out.Tickets = append(out.Tickets, model.Ticket{
				TicketID:   holds[i].TicketID,
				SeatID:     ss.SeatID,
				SeatNumber: ss.SeatLabel,
				Section:    ss.Section,
				Category:   ss.Category,
				TicketType: ss.TicketType,
				UnitPrice:  ss.Price,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Release frees the unconfirmed seats of one reservation.  Other
// reservations of the same holder are untouched.
func (r *InventoryRepo) Release(ctx context.Context, showID uint64, holdToken string) error {
	if holdToken == "" {
		return errs.Argument("hold token is required")
	}
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		seatIDs, err := r.holds.DeleteByTokenTx(ctx, tx, showID, holdToken)
		if err != nil {
			return err
		}
		return r.seats.BulkUpdateStatusTx(ctx, tx, showID, seatIDs, model.SeatFree)
	})
}

// Confirm turns the holds of one reservation into sold seats.  It is
// NotFound when the holds are gone (expired and swept before confirmation).
func (r *InventoryRepo) Confirm(ctx context.Context, showID uint64, holdToken string) error {
	if holdToken == "" {
		return errs.Argument("hold token is required")
	}
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		seatIDs, err := r.holds.ConfirmByTokenTx(ctx, tx, showID, holdToken)
		if err != nil {
			return err
		}
		if len(seatIDs) == 0 {
			return errs.NotFound("seat holds %s on show %d", holdToken, showID)
		}
		return r.seats.BulkUpdateStatusTx(ctx, tx, showID, seatIDs, model.SeatReserved)
	})
}

func unavailable(requested []uint64, holdable []model.ShowSeat) []uint64 {
	ok := make(map[uint64]struct{}, len(holdable))
	for _, ss := range holdable {
		ok[ss.SeatID] = struct{}{}
	}
	var out []uint64
	for _, id := range requested {
		if _, found := ok[id]; !found {
			out = append(out, id)
		}
	}
	return out
}
