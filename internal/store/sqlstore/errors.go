package sqlstore

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"docgate.io/internal/apperrors"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// mapError classifies driver failures: unique violations become conflicts,
// foreign key violations a missing referenced row, the rest database errors.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperrors.Conflict(op+": duplicate record", err)
		case pgForeignKeyViolation:
			return missingReference(op, err)
		}
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return apperrors.Conflict(op+": duplicate record", err)
		case sqlite3.ErrConstraintForeignKey:
			return missingReference(op, err)
		}
	}
	return apperrors.Database(op, err)
}

func missingReference(op string, cause error) error {
	return &apperrors.Error{
		Code:    apperrors.CodeNotFound,
		Message: op + ": referenced record not found",
		Kind:    apperrors.ErrNotFound,
		Cause:   cause,
	}
}
