package errors

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapDBError maps database errors to AppError instances.
// It handles common database error patterns including:
// - sql.ErrNoRows / pgx.ErrNoRows → NotFound
// - Unique constraint violations → Conflict
// - Check and NOT NULL violations → Validation
// - Context timeouts/cancellations → Timeout/Canceled
//
// If the error is not a recognized database error, it returns the original error.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	// Check for context errors first
	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{
			Code:    ErrCodeTimeout,
			Message: "database operation timed out",
			Cause:   err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{
			Code:    ErrCodeCanceled,
			Message: "database operation was canceled",
			Cause:   err,
		}
	}

	// Repositories run on database/sql over the pgx stdlib driver, so a
	// missing row surfaces as sql.ErrNoRows; pgx.ErrNoRows covers callers
	// using the native interface.
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return &AppError{
			Code:    ErrCodeNotFound,
			Message: "resource not found",
			Cause:   err,
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	return err
}

// mapPgError maps PostgreSQL-specific errors to AppError instances.
func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return &AppError{
			Code:    ErrCodeConflict,
			Message: "duplicate value for unique constraint " + pgErr.ConstraintName,
			Cause:   pgErr,
		}
	case pgerrcode.ForeignKeyViolation:
		return &AppError{
			Code:    ErrCodeConflict,
			Message: "referenced row does not exist for constraint " + pgErr.ConstraintName,
			Cause:   pgErr,
		}
	case pgerrcode.CheckViolation:
		return &AppError{
			Code:    ErrCodeValidation,
			Message: "check constraint violated: " + pgErr.ConstraintName,
			Cause:   pgErr,
		}
	case pgerrcode.NotNullViolation:
		return &AppError{
			Code:    ErrCodeValidation,
			Message: "required column missing: " + pgErr.ColumnName,
			Cause:   pgErr,
		}
	default:
		return &AppError{
			Code:    ErrCodeInternal,
			Message: "database error",
			Cause:   pgErr,
		}
	}
}
