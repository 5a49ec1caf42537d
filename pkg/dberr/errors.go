// Package dberr classifies database errors into the classes the routing core
// reacts to: connection failures escalate health checks, timeouts are
// surfaced distinctly from outages, and only transient transactional errors
// are ever retried.
package dberr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

type Class int

const (
	ClassUnknown Class = iota
	// ClassConnection covers refused, reset, closed and unreachable errors.
	ClassConnection
	// ClassTimeout covers deadline and statement-timeout expiry.
	ClassTimeout
	// ClassTransient covers serialization failures and deadlocks, retryable
	// only inside a transaction.
	ClassTransient
	// ClassLogic covers constraint violations, syntax and type errors. Never
	// retried.
	ClassLogic
)

func (c Class) String() string {
	switch c {
	case ClassConnection:
		return "connection"
	case ClassTimeout:
		return "timeout"
	case ClassTransient:
		return "transient"
	case ClassLogic:
		return "logic"
	default:
		return "unknown"
	}
}

// Error carries the classification alongside the driver error.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap classifies err once. Already-wrapped errors pass through unchanged.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Class: Classify(err), Err: err}
}

// ClassOf reports the class of err, looking through wrapping.
func ClassOf(err error) Class {
	var de *Error
	if errors.As(err, &de) {
		return de.Class
	}
	return Classify(err)
}

func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	switch {
	case isTimeout(err):
		return ClassTimeout
	case isTransient(err):
		return ClassTransient
	case isConnection(err):
		return ClassConnection
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return ClassLogic
	}
	return ClassUnknown
}

func IsTimeout(err error) bool {
	return ClassOf(err) == ClassTimeout
}

func IsConnection(err error) bool {
	return ClassOf(err) == ClassConnection
}

func IsTransient(err error) bool {
	return ClassOf(err) == ClassTransient
}

func IsLogic(err error) bool {
	return ClassOf(err) == ClassLogic
}

// IsRetryableTx reports whether a transaction attempt that failed with err
// may be retried. Timeouts and logic errors never qualify.
func IsRetryableTx(err error) bool {
	switch ClassOf(err) {
	case ClassTransient, ClassConnection:
		return true
	default:
		return false
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.QueryCanceled
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure ||
		pgErr.Code == pgerrcode.DeadlockDetected
}

func isConnection(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgerrcode.IsConnectionException(pgErr.Code) {
			return true
		}
		switch pgErr.Code {
		case pgerrcode.AdminShutdown, pgerrcode.CrashShutdown, pgerrcode.CannotConnectNow:
			return true
		}
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	for _, target := range []error{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.EPIPE,
		io.ErrUnexpectedEOF,
		io.EOF,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// pgx reports dead connections and pool teardown as plain errors.
	msg := err.Error()
	return strings.Contains(msg, "conn closed") || strings.Contains(msg, "closed pool")
}
