package dberr

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func pgError(code string) error {
	return &pgconn.PgError{Code: code, Severity: "ERROR", Message: "boom"}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"serialization failure", pgError(pgerrcode.SerializationFailure), ClassTransient},
		{"deadlock", pgError(pgerrcode.DeadlockDetected), ClassTransient},
		{"unique violation", pgError(pgerrcode.UniqueViolation), ClassLogic},
		{"syntax error", pgError(pgerrcode.SyntaxError), ClassLogic},
		{"connection failure", pgError(pgerrcode.ConnectionFailure), ClassConnection},
		{"admin shutdown", pgError(pgerrcode.AdminShutdown), ClassConnection},
		{"cannot connect now", pgError(pgerrcode.CannotConnectNow), ClassConnection},
		{"statement timeout", pgError(pgerrcode.QueryCanceled), ClassTimeout},
		{"context deadline", context.DeadlineExceeded, ClassTimeout},
		{"wrapped deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), ClassTimeout},
		{"connection refused", syscall.ECONNREFUSED, ClassConnection},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), ClassConnection},
		{"conn closed", errors.New("conn closed"), ClassConnection},
		{"closed pool", errors.New("closed pool"), ClassConnection},
		{"plain error", errors.New("something else"), ClassUnknown},
		{"nil", nil, ClassUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestWrap(t *testing.T) {
	orig := pgError(pgerrcode.DeadlockDetected)
	wrapped := Wrap(orig)

	var de *Error
	require.ErrorAs(t, wrapped, &de)
	require.Equal(t, ClassTransient, de.Class)
	require.ErrorIs(t, wrapped, orig)

	// Wrapping twice is a no-op.
	require.Same(t, wrapped, Wrap(wrapped))
	require.NoError(t, Wrap(nil))
}

func TestClassOfLooksThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("tx attempt: %w", Wrap(pgError(pgerrcode.SerializationFailure)))
	require.Equal(t, ClassTransient, ClassOf(wrapped))
	require.True(t, IsTransient(wrapped))
}

func TestIsRetryableTx(t *testing.T) {
	require.True(t, IsRetryableTx(Wrap(pgError(pgerrcode.SerializationFailure))))
	require.True(t, IsRetryableTx(Wrap(pgError(pgerrcode.DeadlockDetected))))
	require.True(t, IsRetryableTx(Wrap(syscall.ECONNREFUSED)))
	require.False(t, IsRetryableTx(Wrap(pgError(pgerrcode.UniqueViolation))))
	require.False(t, IsRetryableTx(Wrap(context.DeadlineExceeded)))
	require.False(t, IsRetryableTx(Wrap(errors.New("unclassified"))))
}

func TestErrorString(t *testing.T) {
	err := Wrap(pgError(pgerrcode.UniqueViolation))
	require.Contains(t, err.Error(), "logic error")
}
