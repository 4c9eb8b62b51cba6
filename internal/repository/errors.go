// Package repository holds the MySQL implementations of the saga's stores:
// transactions, authorize actions, sequences, tasks and the seat inventory.
// Driver errors are translated into the categories of package errs here so
// that services never inspect MySQL error numbers.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

const mysqlDuplicateEntry = 1062

// isDuplicate reports whether err is a unique key violation, optionally on
// the named index.
func isDuplicate(err error, index string) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != mysqlDuplicateEntry {
		return false
	}
	return index == "" || strings.Contains(me.Message, index)
}

// nullString maps "" to NULL so unique indexes ignore absent values.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// inTx runs fn inside a transaction and commits when fn succeeds.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
