package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/cinema-order-saga/internal/errs"
	"github.com/iliyamo/cinema-order-saga/internal/model"
)

// TaskRepo stores background tasks.  MySQL has no UPDATE ... RETURNING, so
// claims stamp a fresh claim_token on the single row they win and read the
// row back by that token.
type TaskRepo struct {
	db *sql.DB
}

func NewTaskRepo(db *sql.DB) *TaskRepo { return &TaskRepo{db: db} }

const taskColumns = `id, name, status, runs_at, remaining_number_of_tries, number_of_tried, last_tried_at, data`

// Save enqueues a Ready task.
func (r *TaskRepo) Save(ctx context.Context, attrs model.TaskAttributes) (*model.Task, error) {
	t := &model.Task{
		ID:                     uuid.NewString(),
		Name:                   attrs.Name,
		Status:                 model.TaskReady,
		RunsAt:                 attrs.RunsAt.UTC(),
		RemainingNumberOfTries: attrs.RemainingNumberOfTries,
		Data:                   attrs.Data,
	}
	if len(t.Data) == 0 {
		t.Data = []byte("{}")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (id, name, status, runs_at, remaining_number_of_tries, number_of_tried, data)
         VALUES (?, ?, ?, ?, ?, 0, ?)`,
		t.ID, t.Name, t.Status, t.RunsAt, t.RemainingNumberOfTries, []byte(t.Data))
	if err != nil {
		return nil, fmt.Errorf("task: save: %w", err)
	}
	return t, nil
}

// ClaimOne flips the oldest due Ready task of name to Running, spending one
// try.  It returns nil when nothing is due.
func (r *TaskRepo) ClaimOne(ctx context.Context, name model.TaskName, now time.Time) (*model.Task, error) {
	claim := uuid.NewString()
	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks
         SET status = ?, claim_token = ?, last_tried_at = ?,
             remaining_number_of_tries = remaining_number_of_tries - 1,
             number_of_tried = number_of_tried + 1
         WHERE name = ? AND status = ? AND runs_at <= ?
         ORDER BY runs_at
         LIMIT 1`,
		model.TaskRunning, claim, now.UTC(), name, model.TaskReady, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("task: claim %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return r.findByClaim(ctx, claim)
}

// PushExecutionResult appends an attempt to the task log.  A successful
// attempt also marks the task Executed.
func (r *TaskRepo) PushExecutionResult(ctx context.Context, id string, result model.TaskExecutionResult) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_execution_results (task_id, executed_at, error) VALUES (?, ?, ?)`,
			id, result.ExecutedAt.UTC(), nullString(result.Error)); err != nil {
			return fmt.Errorf("task: append result: %w", err)
		}
		if result.Error != "" {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ? WHERE id = ? AND status = ?`,
			model.TaskExecuted, id, model.TaskRunning); err != nil {
			return fmt.Errorf("task: mark executed: %w", err)
		}
		return nil
	})
}

// Retry returns Running tasks last tried before the cutoff, and still
// having tries left, to Ready.
func (r *TaskRepo) Retry(ctx context.Context, lastTriedBefore time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?
         WHERE status = ? AND remaining_number_of_tries > 0 AND last_tried_at < ?`,
		model.TaskReady, model.TaskRunning, lastTriedBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("task: retry: %w", err)
	}
	return res.RowsAffected()
}

// AbortOne moves a single exhausted Running task last tried before the
// cutoff to Aborted and returns it, or nil when there is none.
func (r *TaskRepo) AbortOne(ctx context.Context, lastTriedBefore time.Time) (*model.Task, error) {
	claim := uuid.NewString()
	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, claim_token = ?
         WHERE status = ? AND remaining_number_of_tries <= 0 AND last_tried_at < ?
         ORDER BY last_tried_at
         LIMIT 1`,
		model.TaskAborted, claim, model.TaskRunning, lastTriedBefore.UTC())
	if err != nil {
		return nil, fmt.Errorf("task: abort: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return r.findByClaim(ctx, claim)
}

// CleanUp deletes Executed and Aborted tasks scheduled before the cutoff.
// Their execution results go with them.
func (r *TaskRepo) CleanUp(ctx context.Context, runsBefore time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE status IN (?, ?) AND runs_at < ?`,
		model.TaskExecuted, model.TaskAborted, runsBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("task: clean up: %w", err)
	}
	return res.RowsAffected()
}

// FindByID loads a task with its execution log.
func (r *TaskRepo) FindByID(ctx context.Context, id string) (*model.Task, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("task %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("task: find: %w", err)
	}
	if err := r.loadResults(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TaskRepo) findByClaim(ctx context.Context, claim string) (*model.Task, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE claim_token = ?`, claim))
	if err != nil {
		return nil, fmt.Errorf("task: read claimed: %w", err)
	}
	if err := r.loadResults(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TaskRepo) loadResults(ctx context.Context, t *model.Task) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT executed_at, error FROM task_execution_results WHERE task_id = ? ORDER BY id`, t.ID)
	if err != nil {
		return fmt.Errorf("task: load results: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			res model.TaskExecutionResult
			msg sql.NullString
		)
		if err := rows.Scan(&res.ExecutedAt, &msg); err != nil {
			return err
		}
		res.Error = msg.String
		t.ExecutionResults = append(t.ExecutionResults, res)
	}
	return rows.Err()
}

func scanTask(row interface{ Scan(...any) error }) (*model.Task, error) {
	var (
		t         model.Task
		lastTried sql.NullTime
		data      []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Status, &t.RunsAt, &t.RemainingNumberOfTries,
		&t.NumberOfTried, &lastTried, &data); err != nil {
		return nil, err
	}
	if lastTried.Valid {
		at := lastTried.Time
		t.LastTriedAt = &at
	}
	t.Data = data
	return &t, nil
}
