package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"lms/auth-identity/internal/apperr"
)

const (
	pgUniqueViolation   = "23505"
	pgInvalidTextRep    = "22P02"
	pgForeignKeyViolate = "23503"
	pgCheckViolation    = "23514"
)

// mapError translates driver errors into the domain taxonomy so nothing
// store-specific leaves this package.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Wrap(apperr.CodeNotFound, op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperr.Wrap(apperr.CodeConflict, op+": "+pgErr.ConstraintName, err)
		case pgInvalidTextRep:
			// Malformed ids cannot exist.
			return apperr.Wrap(apperr.CodeNotFound, op, err)
		case pgCheckViolation:
			return apperr.Wrap(apperr.CodeInvalidArgument, op+": "+pgErr.ConstraintName, err)
		case pgForeignKeyViolate:
			return apperr.Wrap(apperr.CodeNotFound, op+": referenced row missing", err)
		}
	}
	return apperr.Wrap(apperr.CodeUnavailable, op, err)
}
