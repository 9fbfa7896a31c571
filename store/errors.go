package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

type (
	// Unavailable is returned whenever the store could not complete an
	// operation because of an infrastructure problem (timeout, lost
	// connection, locked database). It always matches ErrUnavailable.
	Unavailable struct {
		Op    string
		cause error
	}

	IncompatibleSchema struct {
		Table   string
		Missing []string
	}
)

var (
	ErrUnavailable = errors.New("store unavailable")
)

func (u Unavailable) Error() string {
	return fmt.Sprintf("store unavailable during %v, cause %v", u.Op, u.cause)
}

func (u Unavailable) Unwrap() error {
	return u.cause
}

func (u Unavailable) Is(target error) bool {
	return target == ErrUnavailable
}

func (i IncompatibleSchema) Error() string {
	return fmt.Sprintf("table %v exists but is missing columns %v", i.Table, strings.Join(i.Missing, ","))
}

// IsUniqueViolation reports whether err was caused by a unique or primary
// key constraint, regardless of the driver in use.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func classify(op string, err error) error {
	var already Unavailable
	switch {
	case err == nil:
		return nil
	case errors.As(err, &already):
		return err
	case isUnavailable(err):
		return Unavailable{Op: op, cause: err}
	}
	return err
}

func isUnavailable(err error) bool {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn):
		return true
	}
	// database/sql does not export this one
	if strings.Contains(err.Error(), "sql: database is closed") {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrCantOpen, sqlite3.ErrFull:
			return true
		}
		return false
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// connection exceptions and operator intervention (shutdown, cancel)
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57")
	}
	return false
}

// MarkUnavailable wraps err as an Unavailable error. Backends outside of
// this package (caches, key value stores) use it so callers see one class
// of infrastructure failure.
func MarkUnavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var already Unavailable
	if errors.As(err, &already) {
		return err
	}
	return Unavailable{Op: op, cause: err}
}
