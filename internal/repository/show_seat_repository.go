package repository // repository for show seat persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/cinema-order-saga/internal/model"
)

// ShowSeatRepo encapsulates database operations for show_seats.
type ShowSeatRepo struct {
	db *sql.DB
}

// NewShowSeatRepo constructs a ShowSeatRepo given a DB handle.
func NewShowSeatRepo(db *sql.DB) *ShowSeatRepo {
	return &ShowSeatRepo{db: db}
}

// CreateBulk inserts multiple show_seat records in one statement.  Empty
// status and category default to FREE and Standard.
func (r *ShowSeatRepo) CreateBulk(ctx context.Context, seats []model.ShowSeat) error {
	if len(seats) == 0 {
		return nil
	}
	query := `INSERT INTO show_seats (show_id, seat_id, seat_label, section, category, ticket_type, status, price) VALUES `
	args := make([]any, 0, len(seats)*8)
	for i, ss := range seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?, ?)"
		status, category, ticketType := ss.Status, ss.Category, ss.TicketType
		if status == "" {
			status = model.SeatFree
		}
		if category == "" {
			category = "Standard"
		}
		if ticketType == "" {
			ticketType = "Adult"
		}
		args = append(args, ss.ShowID, ss.SeatID, ss.SeatLabel, ss.Section, category, ticketType, status, ss.Price)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("show seat: create: %w", err)
	}
	return nil
}

// FilterHoldableSeatsTx locks the requested seats of a show and returns the
// ones that are FREE, in request order.
func (r *ShowSeatRepo) FilterHoldableSeatsTx(ctx context.Context, tx *sql.Tx, showID uint64, seatIDs []uint64) ([]model.ShowSeat, error) {
	if len(seatIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(seatIDs)+2)
	args = append(args, showID)
	for _, id := range seatIDs {
		args = append(args, id)
	}
	args = append(args, model.SeatFree)
	rows, err := tx.QueryContext(ctx,
		`SELECT id, show_id, seat_id, seat_label, section, category, ticket_type, status, price
         FROM show_seats
         WHERE show_id = ? AND seat_id IN (`+placeholders(len(seatIDs))+`) AND status = ?
         FOR UPDATE`, args...)
	if err != nil {
		return nil, fmt.Errorf("show seat: filter holdable: %w", err)
	}
	defer rows.Close()
	bySeat := make(map[uint64]model.ShowSeat, len(seatIDs))
	for rows.Next() {
		var ss model.ShowSeat
		if err := rows.Scan(&ss.ID, &ss.ShowID, &ss.SeatID, &ss.SeatLabel, &ss.Section, &ss.Category,
			&ss.TicketType, &ss.Status, &ss.Price); err != nil {
			return nil, err
		}
		bySeat[ss.SeatID] = ss
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]model.ShowSeat, 0, len(bySeat))
	for _, id := range seatIDs {
		if ss, ok := bySeat[id]; ok {
			out = append(out, ss)
		}
	}
	return out, nil
}

// BulkUpdateStatusTx sets status on the given seats of a show.
func (r *ShowSeatRepo) BulkUpdateStatusTx(ctx context.Context, tx *sql.Tx, showID uint64, seatIDs []uint64, status string) error {
	if len(seatIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(seatIDs)+2)
	args = append(args, status, showID)
	for _, id := range seatIDs {
		args = append(args, id)
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE show_seats SET status = ?, version = version + 1
         WHERE show_id = ? AND seat_id IN (`+placeholders(len(seatIDs))+`)`, args...)
	if err != nil {
		return fmt.Errorf("show seat: update status: %w", err)
	}
	return nil
}
