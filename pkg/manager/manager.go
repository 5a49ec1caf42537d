// Package manager is the facade over the routing core: it owns both pools,
// the health monitor, the router and the statistics, and exposes query,
// scoped-connection, transaction and lifecycle operations.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kong/pg-route-client/pkg/dberr"
	"github.com/kong/pg-route-client/pkg/events"
	"github.com/kong/pg-route-client/pkg/health"
	"github.com/kong/pg-route-client/pkg/pool"
	"github.com/kong/pg-route-client/pkg/router"
	"go.uber.org/zap"
)

var (
	defaultStartupBackoffInterval        = time.Millisecond * 500
	defaultStartupRetries         uint64 = 10
)

type Manager struct {
	cfg     *Config
	logger  *zap.Logger
	primary pool.ConnPool
	replica pool.ConnPool
	monitor *health.Monitor
	router  *router.Router
	stats   *Stats
	bus     *events.Bus

	closeOnce sync.Once
}

// New creates both pools and verifies connectivity: the primary must answer
// at least once (retried with constant backoff) or construction fails; a
// replica that does not answer only degrades startup, the monitor will keep
// probing it.
func New(ctx context.Context, cfg *Config, logger *zap.Logger) (*Manager, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bus := events.NewBus(logger)
	stats := &Stats{}

	primary, err := pool.New(ctx, pool.RolePrimary, &cfg.Primary, logger)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("create primary pool: %w", err)
	}
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(defaultStartupBackoffInterval), defaultStartupRetries),
		ctx)
	if err := backoff.Retry(func() error { return primary.Ping(ctx) }, bo); err != nil {
		primary.Close()
		bus.Close()
		return nil, fmt.Errorf("primary connectivity test: %w", err)
	}
	logger.Info("established primary db connection", zap.String("host", cfg.Primary.Host))
	bus.Publish(events.Event{Kind: events.KindConnect, Role: pool.RolePrimary})

	var replica pool.ConnPool
	if cfg.Replica != nil {
		rp, err := pool.New(ctx, pool.RoleReplica, cfg.Replica, logger)
		if err != nil {
			primary.Close()
			bus.Close()
			return nil, fmt.Errorf("create replica pool: %w", err)
		}
		if pingErr := rp.Ping(ctx); pingErr != nil {
			// Degraded mode: the replica pool stays open and is routed
			// around until a probe succeeds.
			logger.Warn("replica connectivity test failed, continuing without replica reads",
				zap.String("host", cfg.Replica.Host), zap.Error(pingErr))
			bus.Publish(events.Event{Kind: events.KindPoolError, Role: pool.RoleReplica, Err: pingErr})
		} else {
			logger.Info("established replica db connection", zap.String("host", cfg.Replica.Host))
			bus.Publish(events.Event{Kind: events.KindConnect, Role: pool.RoleReplica})
		}
		replica = rp
	}

	targets := []health.Target{primary}
	if replica != nil {
		targets = append(targets, replica)
	}
	monitor := health.NewMonitor(health.Config{
		Interval:               cfg.HealthCheckInterval,
		ProbeTimeout:           cfg.ProbeTimeout,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
	}, targets, bus, stats, logger)

	m := &Manager{
		cfg:     cfg,
		logger:  logger,
		primary: primary,
		replica: replica,
		monitor: monitor,
		router:  router.New(cfg.EnableReadReplication, replica != nil, monitor, stats, logger),
		stats:   stats,
		bus:     bus,
	}

	// Seed health state before serving traffic, then go periodic.
	monitor.RunChecks(ctx)
	monitor.Start()
	return m, nil
}

// QueryOptions are per-call directives for Query and Acquire.
type QueryOptions struct {
	ForcePrimary  bool
	ForceReadonly bool
	// Timeout overrides the configured query timeout for this call.
	Timeout time.Duration
}

// Result is a fully-drained result set. Draining inside the deadline keeps
// the connection's lifetime bounded to the call.
type Result struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int64    `json:"rowCount"`
}

// Query classifies and routes sql, runs it against the chosen pool under the
// query deadline, and returns the drained result. Errors are typed via dberr;
// connection-class failures schedule an immediate health check pass.
func (m *Manager) Query(ctx context.Context, sql string, args []any, opts *QueryOptions) (*Result, error) {
	if opts == nil {
		opts = &QueryOptions{}
	}
	role := m.router.Select(sql, router.Options{
		ForcePrimary:  opts.ForcePrimary,
		ForceReadonly: opts.ForceReadonly,
	})
	p := m.poolFor(role)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.cfg.QueryTimeout
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	rows, err := p.Query(qctx, sql, args...)
	if err != nil {
		return nil, m.queryFailed(role, start, err)
	}
	res, err := collectRows(rows)
	if err != nil {
		return nil, m.queryFailed(role, start, err)
	}
	m.stats.recordQuerySuccess()
	m.bus.Publish(events.Event{Kind: events.KindQuery, Role: role, Elapsed: time.Since(start)})
	return res, nil
}

func collectRows(rows pgx.Rows) (*Result, error) {
	defer rows.Close()
	fds := rows.FieldDescriptions()
	cols := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = fd.Name
	}
	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rowCount := int64(len(out))
	if rowCount == 0 {
		rowCount = rows.CommandTag().RowsAffected()
	}
	return &Result{Columns: cols, Rows: out, RowCount: rowCount}, nil
}

func (m *Manager) queryFailed(role pool.Role, start time.Time, err error) error {
	m.stats.recordQueryFailure()
	wrapped := dberr.Wrap(err)
	m.bus.Publish(events.Event{
		Kind:    events.KindQueryError,
		Role:    role,
		Err:     wrapped,
		Elapsed: time.Since(start),
	})
	if dberr.IsConnection(wrapped) {
		m.bus.Publish(events.Event{Kind: events.KindConnectionError, Role: role, Err: wrapped})
		m.monitor.CheckNow()
	}
	return wrapped
}

// ScopedConn is a routed connection handed to a caller for multi-statement
// access. Release is safe to call more than once and from deferred paths;
// the connection returns to its pool exactly once.
type ScopedConn struct {
	conn      *pgxpool.Conn
	role      pool.Role
	once      sync.Once
	onRelease func()
}

func (c *ScopedConn) Conn() *pgxpool.Conn {
	return c.conn
}

func (c *ScopedConn) Role() pool.Role {
	return c.role
}

func (c *ScopedConn) Release() {
	c.once.Do(func() {
		c.conn.Release()
		if c.onRelease != nil {
			c.onRelease()
		}
	})
}

// Acquire checks out a connection using the same routing rules as Query.
// Callers must Release the returned handle on every exit path.
func (m *Manager) Acquire(ctx context.Context, opts *QueryOptions) (*ScopedConn, error) {
	if opts == nil {
		opts = &QueryOptions{}
	}
	role := m.router.Select("", router.Options{
		ForcePrimary:  opts.ForcePrimary,
		ForceReadonly: opts.ForceReadonly,
	})
	p := m.poolFor(role)
	conn, err := p.Acquire(ctx)
	if err != nil {
		wrapped := dberr.Wrap(err)
		if dberr.IsConnection(wrapped) {
			m.bus.Publish(events.Event{Kind: events.KindConnectionError, Role: role, Err: wrapped})
			m.monitor.CheckNow()
		}
		return nil, wrapped
	}
	m.stats.recordConnAcquired()
	return &ScopedConn{conn: conn, role: role, onRelease: m.stats.recordConnReleased}, nil
}

func (m *Manager) poolFor(role pool.Role) pool.ConnPool {
	if role == pool.RoleReplica && m.replica != nil {
		return m.replica
	}
	return m.primary
}

// Subscribe registers a handler on the event stream.
func (m *Manager) Subscribe(h events.Handler) {
	m.bus.Subscribe(h)
}

func (m *Manager) Stats() StatsSnapshot {
	return m.stats.Snapshot()
}

func (m *Manager) ResetStats() {
	m.stats.Reset()
}

// Health reports the current health snapshot of every monitored pool.
func (m *Manager) Health() map[pool.Role]health.Snapshot {
	return m.monitor.SnapshotAll()
}

// PoolStats projects the pgx pool counters for one role. Asking for a
// replica that is not configured reports the primary.
func (m *Manager) PoolStats(role pool.Role) *pool.Stats {
	return pool.StatsFromPGX(m.poolFor(role).Stat())
}

// Close stops the monitor, closes both pools in parallel and shuts down the
// event stream. Idempotent and safe to call at any point after New returns.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.monitor.Stop()
		var wg sync.WaitGroup
		for _, p := range []pool.ConnPool{m.primary, m.replica} {
			if p == nil {
				continue
			}
			wg.Add(1)
			go func(cp pool.ConnPool) {
				defer wg.Done()
				cp.Close()
				m.bus.Publish(events.Event{Kind: events.KindDisconnect, Role: cp.Role()})
			}(p)
		}
		wg.Wait()
		m.bus.Publish(events.Event{Kind: events.KindShutdown})
		m.bus.Close()
		m.logger.Info("connection manager shut down")
	})
}
