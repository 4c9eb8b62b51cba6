package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/iliyamo/cinema-order-saga/internal/clock"
	"github.com/iliyamo/cinema-order-saga/internal/errs"
	"github.com/iliyamo/cinema-order-saga/internal/model"
)

// ActionRepo is the authorization action ledger.  Transitions are single
// conditional UPDATEs scoped by (type_of, id) so a user cancel racing a
// task-driven cancel cannot corrupt the row.
type ActionRepo struct {
	db    *sql.DB
	clock clock.Clock
}

func NewActionRepo(db *sql.DB, clk clock.Clock) *ActionRepo { return &ActionRepo{db: db, clock: clk} }

const actionColumns = `id, type_of, action_status, purpose_type, purpose_id, agent, recipient, object, result, error, start_date, end_date`

// Start records a new Active action.  An empty ID is filled in.
func (r *ActionRepo) Start(ctx context.Context, a *model.AuthorizeAction) (*model.AuthorizeAction, error) {
	if !model.KnownActionType(a.TypeOf) {
		return nil, errs.Argument("unknown action type %q", a.TypeOf)
	}
	out := *a
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	out.Status = model.ActionActive
	out.StartDate = r.clock.Now()
	out.EndDate = nil
	out.Result = nil

	agent, _ := json.Marshal(out.Agent)
	recipient, _ := json.Marshal(out.Recipient)
	obj, err := model.EncodePayload(out.Object)
	if err != nil {
		return nil, fmt.Errorf("action: encode object: %w", err)
	}
	const q = `INSERT INTO authorize_actions (id, type_of, action_status, purpose_type, purpose_id, agent, recipient, object, start_date)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, q, out.ID, out.TypeOf, out.Status, out.Purpose.TypeOf, out.Purpose.ID,
		agent, recipient, obj, out.StartDate)
	if isDuplicate(err, "") {
		return nil, errs.AlreadyInUse("action %s", out.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("action: start: %w", err)
	}
	return &out, nil
}

// Complete moves an Active action to Completed with result.  Completing an
// already Completed action returns it unchanged.
func (r *ActionRepo) Complete(ctx context.Context, typeOf model.ActionType, id string, result model.ActionResult) (*model.AuthorizeAction, error) {
	raw, err := model.EncodePayload(result)
	if err != nil {
		return nil, fmt.Errorf("action: encode result: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE authorize_actions SET action_status = ?, result = ?, end_date = ?
         WHERE type_of = ? AND id = ? AND action_status = ?`,
		model.ActionCompleted, raw, r.clock.Now(), typeOf, id, model.ActionActive)
	if err != nil {
		return nil, fmt.Errorf("action: complete: %w", err)
	}
	a, err := r.FindByID(ctx, typeOf, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 && a.Status != model.ActionCompleted {
		return nil, errs.NotFound("active %s action %s", typeOf, id)
	}
	return a, nil
}

// Cancel moves the action to Canceled and ends it if it was still open.
// When purposeID is set the update only matches actions of that
// transaction.
func (r *ActionRepo) Cancel(ctx context.Context, typeOf model.ActionType, id, purposeID string) (*model.AuthorizeAction, error) {
	q := `UPDATE authorize_actions SET action_status = ?, end_date = COALESCE(end_date, ?) WHERE type_of = ? AND id = ?`
	args := []any{model.ActionCanceled, r.clock.Now(), typeOf, id}
	if purposeID != "" {
		q += ` AND purpose_id = ?`
		args = append(args, purposeID)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("action: cancel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errs.NotFound("%s action %s", typeOf, id)
	}
	return r.FindByID(ctx, typeOf, id)
}

// GiveUp records a failed authorization.  Only Active actions fail; a
// terminal action is returned as it is.
func (r *ActionRepo) GiveUp(ctx context.Context, typeOf model.ActionType, id string, cause error) (*model.AuthorizeAction, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE authorize_actions SET action_status = ?, error = ?, end_date = ?
         WHERE type_of = ? AND id = ? AND action_status = ?`,
		model.ActionFailed, msg, r.clock.Now(), typeOf, id, model.ActionActive)
	if err != nil {
		return nil, fmt.Errorf("action: give up: %w", err)
	}
	return r.FindByID(ctx, typeOf, id)
}

// FindByID loads one action.
func (r *ActionRepo) FindByID(ctx context.Context, typeOf model.ActionType, id string) (*model.AuthorizeAction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM authorize_actions WHERE type_of = ? AND id = ?`, typeOf, id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("%s action %s", typeOf, id)
	}
	if err != nil {
		return nil, fmt.Errorf("action: find: %w", err)
	}
	return a, nil
}

// SearchByPurpose lists the actions of one transaction in start order.
func (r *ActionRepo) SearchByPurpose(ctx context.Context, q model.ActionQuery) ([]*model.AuthorizeAction, error) {
	query := `SELECT ` + actionColumns + ` FROM authorize_actions WHERE purpose_type = ? AND purpose_id = ?`
	args := []any{q.Purpose.TypeOf, q.Purpose.ID}
	if q.TypeOf != "" {
		query += ` AND type_of = ?`
		args = append(args, q.TypeOf)
	}
	query += ` ORDER BY start_date, id`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("action: search: %w", err)
	}
	defer rows.Close()
	var out []*model.AuthorizeAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("action: scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAction(row interface{ Scan(...any) error }) (*model.AuthorizeAction, error) {
	var (
		a                          model.AuthorizeAction
		agent, recipient, obj, res []byte
		errMsg                     sql.NullString
		endDate                    sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.TypeOf, &a.Status, &a.Purpose.TypeOf, &a.Purpose.ID,
		&agent, &recipient, &obj, &res, &errMsg, &a.StartDate, &endDate); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(agent, &a.Agent); err != nil {
		return nil, fmt.Errorf("decode agent: %w", err)
	}
	if err := json.Unmarshal(recipient, &a.Recipient); err != nil {
		return nil, fmt.Errorf("decode recipient: %w", err)
	}
	var err error
	if a.Object, err = model.DecodeObject(a.TypeOf, obj); err != nil {
		return nil, err
	}
	if a.Result, err = model.DecodeResult(a.TypeOf, res); err != nil {
		return nil, err
	}
	a.Error = errMsg.String
	if endDate.Valid {
		end := endDate.Time
		a.EndDate = &end
	}
	return &a, nil
}
