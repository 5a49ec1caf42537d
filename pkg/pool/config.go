package pool

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Role identifies which database instance a pool points at.
type Role string

const (
	RolePrimary Role = "primary"
	RoleReplica Role = "replica"
)

const (
	defaultMaxConnections = 50
	defaultMinConnections = 20
)

var (
	defaultConnectTimeout  = time.Second * 5
	defaultMaxConnIdleTime = time.Minute * 30
)

var dsnNoTLS = "postgres://%s:%s@%s:%s/%s?sslmode=disable"

var dsnTLS = "postgres://%s:%s@%s:%s/%s?sslmode=verify-ca&sslrootcert=%s"

// Config describes a single pool endpoint. Immutable after construction;
// zero sizing fields fall back to package defaults.
type Config struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	EnableTLS      bool
	CABundleFSPath string

	// AppName is set as application_name on every connection so the pool
	// is identifiable in pg_stat_activity.
	AppName string

	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
	MaxConnLifetime time.Duration
	ConnectTimeout  time.Duration

	// MaxConnUses destroys a connection after it has been released this many
	// times. Zero disables the bound.
	MaxConnUses int64

	// StatementTimeout is applied server-side via the statement_timeout
	// runtime parameter. Zero leaves the server default in place.
	StatementTimeout time.Duration
}

func (c *Config) Validate() error {
	if c.User == "" {
		return fmt.Errorf("pool config: user cannot be empty")
	}
	if c.Password == "" {
		return fmt.Errorf("pool config: password cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("pool config: host cannot be empty")
	}
	if c.Port == "" {
		return fmt.Errorf("pool config: port cannot be empty")
	}
	if c.Database == "" {
		return fmt.Errorf("pool config: database cannot be empty")
	}
	if c.EnableTLS && c.CABundleFSPath == "" {
		return fmt.Errorf("pool config: TLS requires a CA bundle path")
	}
	// Compare against the post-default ceiling so an explicit MinConns above
	// the defaulted MaxConns fails here instead of at runtime.
	maxConns := c.MaxConns
	if maxConns == 0 {
		maxConns = defaultMaxConnections
	}
	if c.MinConns > maxConns {
		return fmt.Errorf("pool config: minConns %d exceeds maxConns %d", c.MinConns, maxConns)
	}
	return nil
}

func (c *Config) DSN() string {
	if !c.EnableTLS {
		return fmt.Sprintf(dsnNoTLS, c.User, c.Password, c.Host, c.Port, c.Database)
	}
	return fmt.Sprintf(dsnTLS, c.User, c.Password, c.Host, c.Port, c.Database, c.CABundleFSPath)
}

func (c *Config) pgxPoolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	pc.MaxConns = c.MaxConns
	if pc.MaxConns == 0 {
		pc.MaxConns = defaultMaxConnections
	}
	pc.MinConns = c.MinConns
	if pc.MinConns == 0 {
		pc.MinConns = defaultMinConnections
		if pc.MinConns > pc.MaxConns {
			pc.MinConns = pc.MaxConns
		}
	}
	pc.MaxConnIdleTime = c.MaxConnIdleTime
	if pc.MaxConnIdleTime == 0 {
		pc.MaxConnIdleTime = defaultMaxConnIdleTime
	}
	if c.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = c.MaxConnLifetime
	}
	pc.ConnConfig.ConnectTimeout = c.ConnectTimeout
	if pc.ConnConfig.ConnectTimeout == 0 {
		pc.ConnConfig.ConnectTimeout = defaultConnectTimeout
	}

	if c.AppName != "" {
		pc.ConnConfig.RuntimeParams["application_name"] = c.AppName
	}
	if c.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] =
			strconv.FormatInt(c.StatementTimeout.Milliseconds(), 10)
	}

	// The health monitor owns liveness probing, so the inner pgx checker can
	// stay lazy.
	pc.HealthCheckPeriod = time.Minute * 5

	if c.MaxConnUses > 0 {
		installUseLimit(pc, c.MaxConnUses)
	}
	return pc, nil
}

// installUseLimit wires pgxpool release hooks so a connection is destroyed
// once it has served MaxConnUses acquisitions.
func installUseLimit(pc *pgxpool.Config, limit int64) {
	var mu sync.Mutex
	uses := make(map[*pgx.Conn]int64)

	pc.AfterRelease = func(conn *pgx.Conn) bool {
		mu.Lock()
		defer mu.Unlock()
		uses[conn]++
		if uses[conn] >= limit {
			delete(uses, conn)
			return false
		}
		return true
	}
	pc.BeforeClose = func(conn *pgx.Conn) {
		mu.Lock()
		defer mu.Unlock()
		delete(uses, conn)
	}
}
