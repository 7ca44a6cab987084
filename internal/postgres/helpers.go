package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the postgres error code raised when an insert loses a
// race on a unique constraint. The stores treat it as "row already exists",
// never as a failure.
const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
