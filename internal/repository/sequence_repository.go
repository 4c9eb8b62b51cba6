package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// SequenceRepo is the durable per-key counter behind confirmation numbers.
type SequenceRepo struct {
	db *sql.DB
}

func NewSequenceRepo(db *sql.DB) *SequenceRepo { return &SequenceRepo{db: db} }

// Increment atomically bumps (target, key) and returns the new value.  The
// first call for a pair returns 1.  LAST_INSERT_ID(expr) hands the written
// value back on the same connection, so no second read is needed.
func (r *SequenceRepo) Increment(ctx context.Context, target, key string) (int64, error) {
	const q = `INSERT INTO sequences (target, date_key, no) VALUES (?, ?, LAST_INSERT_ID(1))
               ON DUPLICATE KEY UPDATE no = LAST_INSERT_ID(no + 1)`
	res, err := r.db.ExecContext(ctx, q, target, key)
	if err != nil {
		return 0, fmt.Errorf("sequence: increment %s/%s: %w", target, key, err)
	}
	no, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sequence: read %s/%s: %w", target, key, err)
	}
	return no, nil
}
