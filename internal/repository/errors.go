package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrSessionExists is returned when a (test, student) session row already exists.
	ErrSessionExists = errors.New("session already exists for test and student")
	// ErrSubmissionExists is returned when a (session, section) submission already exists.
	ErrSubmissionExists = errors.New("section submission already exists")
	// ErrSessionImmutable is returned when an update targets a completed session.
	ErrSessionImmutable = errors.New("session is completed and cannot change")
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
