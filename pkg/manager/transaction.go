package manager

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kong/pg-route-client/pkg/dberr"
	"github.com/kong/pg-route-client/pkg/events"
	"github.com/kong/pg-route-client/pkg/pool"
	"go.uber.org/zap"
)

// TxOptions configure one Transaction call. Zero values fall back to the
// manager's configured retry policy.
type TxOptions struct {
	MaxRetries int
	RetryDelay time.Duration
	IsoLevel   pgx.TxIsoLevel
	AccessMode pgx.TxAccessMode
}

// Transaction runs fn inside BEGIN/COMMIT on the primary pool. Transactions
// are never routed to a replica. Failed attempts are rolled back and, when
// the error class is retryable, retried with linearly increasing delay up to
// MaxRetries attempts; logic errors abort on the first attempt.
func (m *Manager) Transaction(ctx context.Context, fn func(pgx.Tx) error, opts *TxOptions) error {
	if opts == nil {
		opts = &TxOptions{}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = m.cfg.TxMaxRetries
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = m.cfg.TxRetryDelay
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = m.runTxAttempt(ctx, fn, opts)
		if lastErr == nil {
			return nil
		}
		if !dberr.IsRetryableTx(lastErr) || attempt == maxRetries {
			return lastErr
		}
		m.stats.recordTxRetry()
		m.logger.Warn("retrying transaction",
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		timer := time.NewTimer(retryDelay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return dberr.Wrap(ctx.Err())
		case <-timer.C:
		}
	}
	return lastErr
}

func (m *Manager) runTxAttempt(ctx context.Context, fn func(pgx.Tx) error, opts *TxOptions) error {
	tx, err := m.primary.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   opts.IsoLevel,
		AccessMode: opts.AccessMode,
	})
	if err != nil {
		return m.txFailed(err)
	}
	m.stats.recordTxBegin()

	if err := fn(tx); err != nil {
		m.rollback(ctx, tx)
		return m.txFailed(err)
	}
	if err := tx.Commit(ctx); err != nil {
		m.rollback(ctx, tx)
		return m.txFailed(err)
	}
	m.stats.recordTxCommit()
	return nil
}

// rollback releases the attempt's connection. A rollback failure is logged
// but never replaces the error that caused it.
func (m *Manager) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		m.logger.Warn("transaction rollback failed", zap.Error(err))
	}
	m.stats.recordTxRollback()
}

func (m *Manager) txFailed(err error) error {
	wrapped := dberr.Wrap(err)
	if dberr.IsConnection(wrapped) {
		m.bus.Publish(events.Event{Kind: events.KindConnectionError, Role: pool.RolePrimary, Err: wrapped})
		m.monitor.CheckNow()
	}
	return wrapped
}
