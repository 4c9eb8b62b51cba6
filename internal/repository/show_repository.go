package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/cinema-order-saga/internal/errs"
	"github.com/iliyamo/cinema-order-saga/internal/model"
)

// ShowRepo provides access to the shows table.
type ShowRepo struct {
	db *sql.DB
}

func NewShowRepo(db *sql.DB) *ShowRepo { return &ShowRepo{db: db} }

const showColumns = `id, seller_id, title, starts_at, ends_at, status, created_at, updated_at`

// Create inserts s and sets its ID.  An empty status defaults to SCHEDULED.
func (r *ShowRepo) Create(ctx context.Context, s *model.Show) error {
	if s.Status == "" {
		s.Status = model.ShowScheduled
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO shows (seller_id, title, starts_at, ends_at, status) VALUES (?, ?, ?, ?, ?)`,
		s.SellerID, s.Title, s.StartsAt.UTC(), s.EndsAt.UTC(), s.Status)
	if err != nil {
		return fmt.Errorf("show: create: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	return nil
}

// GetByID returns the show or a NotFound error.
func (r *ShowRepo) GetByID(ctx context.Context, id uint64) (*model.Show, error) {
	return getShow(ctx, r.db, id, "")
}

// GetByIDTx reads the show inside tx with a shared lock so its status
// cannot change while seats are being held.
func (r *ShowRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Show, error) {
	return getShow(ctx, tx, id, " FOR SHARE")
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getShow(ctx context.Context, q queryRower, id uint64, lock string) (*model.Show, error) {
	var s model.Show
	err := q.QueryRowContext(ctx, `SELECT `+showColumns+` FROM shows WHERE id = ?`+lock, id).
		Scan(&s.ID, &s.SellerID, &s.Title, &s.StartsAt, &s.EndsAt, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("show %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("show: get %d: %w", id, err)
	}
	return &s, nil
}
