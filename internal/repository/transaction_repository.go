package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/iliyamo/cinema-order-saga/internal/errs"
	"github.com/iliyamo/cinema-order-saga/internal/model"
)

// TransactionRepo persists order placement transactions.  Every mutation is
// a single UPDATE conditioned on status = InProgress.
type TransactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

const transactionColumns = `id, type_of, status, seller_id, seller_name, agent_id, agent_group, agent_name,
       passport_hash, expires, start_date, end_date, customer_contact, payment_method, authorize_actions, result`

// Create inserts a new InProgress transaction.  Reusing a passport violates
// uq_transactions_passport and is reported as AlreadyInUse.
func (r *TransactionRepo) Create(ctx context.Context, t *model.Transaction) error {
	const q = `INSERT INTO transactions
               (id, type_of, status, seller_id, seller_name, agent_id, agent_group, agent_name, passport_hash, expires, start_date)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		t.ID, t.TypeOf, t.Status, t.Seller.ID, t.Seller.Name, t.Agent.ID, t.Agent.Group, t.Agent.Name,
		nullString(t.PassportHash), t.Expires.UTC(), t.StartDate.UTC())
	if isDuplicate(err, "uq_transactions_passport") {
		return errs.AlreadyInUse("passport already used by another transaction")
	}
	if err != nil {
		return fmt.Errorf("transaction: create: %w", err)
	}
	return nil
}

// FindByID loads a transaction in any status.
func (r *TransactionRepo) FindByID(ctx context.Context, id string) (*model.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("transaction %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("transaction: find %s: %w", id, err)
	}
	return t, nil
}

// SetCustomerContact stores contact on an InProgress transaction.
func (r *TransactionRepo) SetCustomerContact(ctx context.Context, id string, contact model.CustomerContact) error {
	raw, err := json.Marshal(contact)
	if err != nil {
		return fmt.Errorf("transaction: encode contact: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET customer_contact = ? WHERE id = ? AND status = ?`,
		raw, id, model.TransactionInProgress)
	if err != nil {
		return fmt.Errorf("transaction: set contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("transaction %s in progress", id)
	}
	return nil
}

// Confirm writes the terminal Confirmed state.  A duplicate order number is
// AlreadyInUse; so is a transaction another caller confirmed first.
func (r *TransactionRepo) Confirm(ctx context.Context, p model.ConfirmParams) error {
	actions, err := json.Marshal(p.AuthorizeActions)
	if err != nil {
		return fmt.Errorf("transaction: encode actions: %w", err)
	}
	result, err := json.Marshal(p.Result)
	if err != nil {
		return fmt.Errorf("transaction: encode result: %w", err)
	}
	const q = `UPDATE transactions
               SET status = ?, end_date = ?, payment_method = ?, authorize_actions = ?, result = ?, order_number = ?
               WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q,
		model.TransactionConfirmed, p.EndDate.UTC(), p.PaymentMethod, actions, result, p.Result.Order.OrderNumber,
		p.TransactionID, model.TransactionInProgress)
	if isDuplicate(err, "uq_transactions_order_number") {
		return errs.AlreadyInUse("order number %s", p.Result.Order.OrderNumber)
	}
	if err != nil {
		return fmt.Errorf("transaction: confirm: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	current, err := r.FindByID(ctx, p.TransactionID)
	if err != nil {
		return err
	}
	if current.Status == model.TransactionConfirmed {
		return errs.AlreadyInUse("transaction %s already confirmed", p.TransactionID)
	}
	return errs.NotFound("transaction %s in progress", p.TransactionID)
}

// ExpireDue moves up to limit overdue InProgress transactions to Expired and
// returns the ids this call transitioned.
func (r *TransactionRepo) ExpireDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM transactions WHERE status = ? AND expires < ? ORDER BY expires LIMIT ?`,
		model.TransactionInProgress, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("transaction: list overdue: %w", err)
	}
	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	expired := make([]string, 0, len(candidates))
	for _, id := range candidates {
		res, err := r.db.ExecContext(ctx,
			`UPDATE transactions SET status = ?, end_date = ? WHERE id = ? AND status = ? AND expires < ?`,
			model.TransactionExpired, now.UTC(), id, model.TransactionInProgress, now.UTC())
		if err != nil {
			return expired, fmt.Errorf("transaction: expire %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			expired = append(expired, id)
		}
	}
	return expired, nil
}

func scanTransaction(row interface{ Scan(...any) error }) (*model.Transaction, error) {
	var (
		t                        model.Transaction
		passport, payment        sql.NullString
		endDate                  sql.NullTime
		contact, actions, result []byte
	)
	err := row.Scan(&t.ID, &t.TypeOf, &t.Status, &t.Seller.ID, &t.Seller.Name, &t.Agent.ID, &t.Agent.Group, &t.Agent.Name,
		&passport, &t.Expires, &t.StartDate, &endDate, &contact, &payment, &actions, &result)
	if err != nil {
		return nil, err
	}
	t.PassportHash = passport.String
	t.PaymentMethod = model.PaymentMethod(payment.String)
	if endDate.Valid {
		end := endDate.Time
		t.EndDate = &end
	}
	if len(contact) > 0 {
		t.CustomerContact = &model.CustomerContact{}
		if err := json.Unmarshal(contact, t.CustomerContact); err != nil {
			return nil, fmt.Errorf("decode contact: %w", err)
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &t.AuthorizeActions); err != nil {
			return nil, fmt.Errorf("decode actions: %w", err)
		}
	}
	if len(result) > 0 {
		t.Result = &model.TransactionResult{}
		if err := json.Unmarshal(result, t.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	return &t, nil
}
