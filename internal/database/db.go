package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/orecrest/authcore/internal/models"
)

// Postgres error codes the repositories care about. Anything else
// bubbles up unmapped.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
)

// MapPostgresError translates driver errors into the domain sentinels
// the service layer switches on, so repositories never leak pgx types.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return models.ErrConflict
		case pgForeignKeyViolation, pgNotNullViolation:
			return models.ErrBadRequest
		}
	}

	return err
}

// WithTransaction runs fn inside a transaction, committing on nil error
// and rolling back otherwise. A panic in fn rolls back before
// re-panicking.
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	return fn(tx)
}
