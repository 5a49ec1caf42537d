package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ConnPool is the surface the connection manager and health monitor consume.
// *Pool satisfies it; tests substitute fakes at this seam.
type ConnPool interface {
	Role() Role
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
	AcquireFunc(ctx context.Context, f func(*pgxpool.Conn) error) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Stat() *pgxpool.Stat
	Config() *pgxpool.Config
	Close()
}

// Pool wraps a pgxpool.Pool with the role it serves. The wrapped pool bounds
// concurrency to MaxConns; a saturated Acquire blocks until a connection
// frees up or the caller's context expires.
type Pool struct {
	role   Role
	inner  *pgxpool.Pool
	logger *zap.Logger
}

func New(ctx context.Context, role Role, cfg *Config, logger *zap.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s pool: %w", role, err)
	}
	pc, err := cfg.pgxPoolConfig()
	if err != nil {
		return nil, fmt.Errorf("%s pool: %w", role, err)
	}
	inner, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("%s pool: %w", role, err)
	}
	logger.Info("created connection pool",
		zap.String("role", string(role)),
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.Int32("maxConns", pc.MaxConns),
		zap.Int32("minConns", pc.MinConns),
		zap.Bool("tls", cfg.EnableTLS))
	return &Pool{role: role, inner: inner, logger: logger}, nil
}

func (p *Pool) Role() Role {
	return p.role
}

func (p *Pool) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	return p.inner.Acquire(ctx)
}

func (p *Pool) AcquireFunc(ctx context.Context, f func(*pgxpool.Conn) error) error {
	return p.inner.AcquireFunc(ctx, f)
}

func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.inner.Exec(ctx, sql, args...)
}

func (p *Pool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.inner.Query(ctx, sql, args...)
}

func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.inner.QueryRow(ctx, sql, args...)
}

func (p *Pool) Begin(ctx context.Context) (pgx.Tx, error) {
	return p.inner.Begin(ctx)
}

func (p *Pool) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return p.inner.BeginTx(ctx, txOptions)
}

func (p *Pool) Ping(ctx context.Context) error {
	return p.inner.Ping(ctx)
}

func (p *Pool) Stat() *pgxpool.Stat {
	return p.inner.Stat()
}

func (p *Pool) Config() *pgxpool.Config {
	return p.inner.Config()
}

func (p *Pool) Close() {
	p.inner.Close()
	p.logger.Info("closed connection pool", zap.String("role", string(p.role)))
}

// Stats is a serializable projection of pgxpool.Stat.
type Stats struct {
	AcquireCount    int64
	AcquireDuration time.Duration
	AcquiredConns   int32
	IdleConns       int32
	TotalConns      int32
	MaxConns        int32
}

// StatsFromPGX snapshots a pgxpool.Stat. A nil stat yields zero counters.
func StatsFromPGX(stat *pgxpool.Stat) *Stats {
	if stat == nil {
		return &Stats{}
	}
	return &Stats{
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration(),
		AcquiredConns:   stat.AcquiredConns(),
		IdleConns:       stat.IdleConns(),
		TotalConns:      stat.TotalConns(),
		MaxConns:        stat.MaxConns(),
	}
}
