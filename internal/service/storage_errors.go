package service

import (
	"context"
	"errors"
	"fmt"

	"marketplace-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes that mean another transaction won the race.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
)

// storageError maps a repository or transaction error onto the AppError catalog.
// AppErrors pass through unchanged.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperror.As(err); ok {
		return err
	}

	wrapped := fmt.Errorf("%s: %w", op, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperror.ErrLockTimeout(wrapped)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable,
			pgUniqueViolation, pgCheckViolation:
			return apperror.ErrConcurrentModification(wrapped)
		}
	}
	return apperror.ErrDatabaseError(wrapped)
}
