package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrLockHeld      = errors.New("lead locked by another worker")
	ErrTerminal      = errors.New("already in a terminal state")
	ErrNoneAvailable = errors.New("no eligible number")
	// ErrDuplicate means the completion token was already applied.
	ErrDuplicate = errors.New("completion already applied")
)

const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// IsTransient reports whether err may succeed on retry. Domain results and
// caller cancellation are final. Unclassified errors, such as a dropped
// connection, are retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrLockHeld),
		errors.Is(err, ErrTerminal),
		errors.Is(err, ErrNoneAvailable),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientSQLState(pgErr.Code)
	}

	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		// extended result codes keep the primary code in the low byte
		switch coded.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return true
		default:
			return false
		}
	}
	return true
}

// transientSQLState covers serialization failures and deadlocks (40),
// connection exceptions (08), resource exhaustion (53) and operator
// intervention such as admin shutdown (57P).
func transientSQLState(code string) bool {
	switch {
	case strings.HasPrefix(code, "40"),
		strings.HasPrefix(code, "08"),
		strings.HasPrefix(code, "53"),
		strings.HasPrefix(code, "57P"):
		return true
	}
	return false
}
