package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"person-vectors/internal/codec"
)

// Kind separates retryable store failures from permanent ones.
type Kind int

const (
	Fatal Kind = iota
	Transient
)

func (k Kind) String() string {
	if k == Transient {
		return "transient"
	}
	return "fatal"
}

// StoreError wraps a driver error with the operation that failed.
type StoreError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Transient() bool { return e.Kind == Transient }

// Timeout reports whether the operation ran out of time.
func (e *StoreError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// IsTransient reports whether err is a retryable *StoreError.
func IsTransient(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Transient()
}

// wrapErr types err for op. Sentinels and codec errors pass through unchanged.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	var mv *codec.MalformedVectorError
	if errors.As(err, &se) || errors.As(err, &mv) ||
		errors.Is(err, ErrVectorNotFound) || errors.Is(err, ErrEntityNotFound) {
		return err
	}
	return &StoreError{Op: op, Kind: classify(err), Err: err}
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, context.Canceled):
		return Fatal
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, driver.ErrBadConn):
		return Transient
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Transient
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}
	if pgconn.Timeout(err) {
		return Transient
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return Transient
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return Transient
		}
		return Fatal
	}
	return Fatal
}

// classifySQLState treats connection exceptions (08), transaction rollbacks
// such as serialization failures and deadlocks (40), insufficient resources
// (53) and operator shutdowns (57P01-57P03) as transient.
func classifySQLState(code string) Kind {
	switch {
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "40"), strings.HasPrefix(code, "53"):
		return Transient
	case code == "57P01", code == "57P02", code == "57P03":
		return Transient
	}
	return Fatal
}
