package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	. "github.com/lifthrasiir/forkchat/internal/types"
)

// DbOrTx interface defines the common methods used from *sql.DB and *sql.Tx.
type DbOrTx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// GenerateID returns a fresh identifier for any stored entity.
func GenerateID() string {
	return uuid.NewString()
}

func now() time.Time { return time.Now().UTC() }

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// withTx runs fn inside a transaction, committing only if fn succeeds.
func (db *Database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Rollback on error

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// withReadTx runs fn inside a read-only transaction, giving it a consistent snapshot.
func (db *Database) withReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback()
	return fn(tx)
}

// notFoundOr translates sql.ErrNoRows into a NotFound error and wraps anything else.
func notFoundOr(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return MakeNotFoundError("%s %s not found", what, id)
	}
	return fmt.Errorf("failed to get %s %s: %w", what, id, err)
}

func requireRowsAffected(result sql.Result, what, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return MakeNotFoundError("%s %s not found", what, id)
	}
	return nil
}

func touchChat(ctx context.Context, db DbOrTx, chatID string, at time.Time) error {
	if _, err := db.ExecContext(ctx, "UPDATE chats SET updated_at = ? WHERE id = ?", formatTime(at), chatID); err != nil {
		return fmt.Errorf("failed to update chat updated_at: %w", err)
	}
	return nil
}
