package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/cinema-order-saga/internal/model"
)

// SeatHoldRepo provides data access to the seat_holds table.  A hold
// belongs to a transaction (the holder) until it is confirmed or expires.
// All timestamps are UTC.
type SeatHoldRepo struct {
	db *sql.DB
}

// NewSeatHoldRepo returns a new SeatHoldRepo bound to the provided database.
func NewSeatHoldRepo(db *sql.DB) *SeatHoldRepo { return &SeatHoldRepo{db: db} }

// ExpireHoldsTx removes unconfirmed holds of a show that expired at or
// before now and returns their seat IDs, which the caller must free.
func (r *SeatHoldRepo) ExpireHoldsTx(ctx context.Context, tx *sql.Tx, showID uint64, now time.Time) ([]uint64, error) {
	seatIDs, err := r.seatIDsTx(ctx, tx,
		`SELECT seat_id FROM seat_holds WHERE show_id = ? AND confirmed = 0 AND expires_at <= ? FOR UPDATE`,
		showID, now.UTC())
	if err != nil || len(seatIDs) == 0 {
		return seatIDs, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM seat_holds WHERE show_id = ? AND confirmed = 0 AND expires_at <= ?`,
		showID, now.UTC()); err != nil {
		return nil, fmt.Errorf("seat hold: expire: %w", err)
	}
	return seatIDs, nil
}

// CreateMultipleTx inserts holds within tx.  Passing an empty slice has no
// effect.
func (r *SeatHoldRepo) CreateMultipleTx(ctx context.Context, tx *sql.Tx, holds []model.SeatHold) error {
	if len(holds) == 0 {
		return nil
	}
	query := `INSERT INTO seat_holds (holder, show_id, seat_id, hold_token, ticket_id, expires_at) VALUES `
	args := make([]any, 0, len(holds)*6)
	for i, h := range holds {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?)"
		args = append(args, h.Holder, h.ShowID, h.SeatID, h.HoldToken, h.TicketID, h.ExpiresAt.UTC())
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("seat hold: create: %w", err)
	}
	return nil
}

// DeleteByTokenTx removes the unconfirmed holds of one reservation on a
// show and returns the released seat IDs.
func (r *SeatHoldRepo) DeleteByTokenTx(ctx context.Context, tx *sql.Tx, showID uint64, holdToken string) ([]uint64, error) {
	seatIDs, err := r.seatIDsTx(ctx, tx,
		`SELECT seat_id FROM seat_holds WHERE show_id = ? AND hold_token = ? AND confirmed = 0 FOR UPDATE`,
		showID, holdToken)
	if err != nil || len(seatIDs) == 0 {
		return seatIDs, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM seat_holds WHERE show_id = ? AND hold_token = ? AND confirmed = 0`, showID, holdToken); err != nil {
		return nil, fmt.Errorf("seat hold: delete: %w", err)
	}
	return seatIDs, nil
}

// ConfirmByTokenTx marks the holds of one reservation on a show confirmed
// so they no longer expire, and returns their seat IDs.
func (r *SeatHoldRepo) ConfirmByTokenTx(ctx context.Context, tx *sql.Tx, showID uint64, holdToken string) ([]uint64, error) {
	seatIDs, err := r.seatIDsTx(ctx, tx,
		`SELECT seat_id FROM seat_holds WHERE show_id = ? AND hold_token = ? FOR UPDATE`, showID, holdToken)
	if err != nil || len(seatIDs) == 0 {
		return seatIDs, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE seat_holds SET confirmed = 1 WHERE show_id = ? AND hold_token = ?`, showID, holdToken); err != nil {
		return nil, fmt.Errorf("seat hold: confirm: %w", err)
	}
	return seatIDs, nil
}

func (r *SeatHoldRepo) seatIDsTx(ctx context.Context, tx *sql.Tx, q string, args ...any) ([]uint64, error) {
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("seat hold: select: %w", err)
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// randomToken returns n random bytes hex encoded.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateHoldRecords builds holds for holder on the given seats.  All holds
// of one reservation share token, generated when empty; each seat gets its
// own ticket id.
func GenerateHoldRecords(holder, token string, showID uint64, seatIDs []uint64, expiresAt time.Time) ([]model.SeatHold, error) {
	if token == "" {
		var err error
		if token, err = randomToken(32); err != nil {
			return nil, err
		}
	}
	holds := make([]model.SeatHold, 0, len(seatIDs))
	for _, sid := range seatIDs {
		holds = append(holds, model.SeatHold{
			Holder:    holder,
			ShowID:    showID,
			SeatID:    sid,
			HoldToken: token,
			TicketID:  uuid.NewString(),
			ExpiresAt: expiresAt,
		})
	}
	return holds, nil
}
