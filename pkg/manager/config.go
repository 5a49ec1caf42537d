package manager

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kong/pg-route-client/pkg/pool"
)

const caBundleFSPath = "/config/ca_certs/aws-postgres-cabundle-secret"

const (
	defaultHealthCheckInterval    = time.Second * 30
	defaultProbeTimeout           = time.Second * 5
	defaultMaxConsecutiveFailures = 3
	defaultQueryTimeout           = time.Second * 30
	defaultTxMaxRetries           = 3
	defaultTxRetryDelay           = time.Millisecond * 100
	defaultAppName                = "pg-route-client"
)

// Config wires the manager: one mandatory primary endpoint, an optional
// replica endpoint, and the routing-core knobs. Immutable after construction.
type Config struct {
	Primary pool.Config
	// Replica is nil when no read replica is configured.
	Replica *pool.Config

	// EnableReadReplication is the master switch: when false every statement
	// routes to primary regardless of classification.
	EnableReadReplication bool

	HealthCheckInterval    time.Duration
	ProbeTimeout           time.Duration
	MaxConsecutiveFailures int

	QueryTimeout time.Duration
	TxMaxRetries int
	TxRetryDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = defaultHealthCheckInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = defaultMaxConsecutiveFailures
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
	if c.TxMaxRetries <= 0 {
		c.TxMaxRetries = defaultTxMaxRetries
	}
	if c.TxRetryDelay <= 0 {
		c.TxRetryDelay = defaultTxRetryDelay
	}
}

func (c *Config) Validate() error {
	if err := c.Primary.Validate(); err != nil {
		return fmt.Errorf("primary: %w", err)
	}
	if c.Replica != nil {
		if err := c.Replica.Validate(); err != nil {
			return fmt.Errorf("replica: %w", err)
		}
	}
	return nil
}

// LoadConfig reads the recognized PG_* environment variables.
func LoadConfig() (*Config, error) {
	tls := false
	if v := os.Getenv("ENABLE_TLS"); v == "yes" || v == "true" {
		tls = true
	}

	appName := os.Getenv("PG_APP_NAME")
	if appName == "" {
		appName = defaultAppName
	}

	maxConns, err := envInt32("PG_MAX_CONNS", 0)
	if err != nil {
		return nil, err
	}
	minConns, err := envInt32("PG_MIN_CONNS", 0)
	if err != nil {
		return nil, err
	}
	idleTimeout, err := envDuration("PG_IDLE_TIMEOUT", 0)
	if err != nil {
		return nil, err
	}
	connectTimeout, err := envDuration("PG_CONNECT_TIMEOUT", 0)
	if err != nil {
		return nil, err
	}
	maxConnUses, err := envInt64("PG_MAX_CONN_USES", 0)
	if err != nil {
		return nil, err
	}
	statementTimeout, err := envDuration("PG_STATEMENT_TIMEOUT", 0)
	if err != nil {
		return nil, err
	}

	primary := pool.Config{
		User:             os.Getenv("PG_USER"),
		Password:         os.Getenv("PG_PASSWORD"),
		Host:             os.Getenv("PG_HOST"),
		Port:             os.Getenv("PG_PORT"),
		Database:         os.Getenv("PG_DATABASE"),
		EnableTLS:        tls,
		CABundleFSPath:   caBundleFSPath,
		AppName:          appName,
		MaxConns:         maxConns,
		MinConns:         minConns,
		MaxConnIdleTime:  idleTimeout,
		ConnectTimeout:   connectTimeout,
		MaxConnUses:      maxConnUses,
		StatementTimeout: statementTimeout,
	}

	cfg := &Config{Primary: primary}

	if roHost := os.Getenv("PG_RO_HOST"); roHost != "" {
		replica := primary
		replica.Host = roHost
		cfg.Replica = &replica
	}

	cfg.EnableReadReplication = true
	if v := os.Getenv("PG_ENABLE_READ_REPLICATION"); v == "no" || v == "false" {
		cfg.EnableReadReplication = false
	}

	if cfg.HealthCheckInterval, err = envDuration("PG_HEALTH_CHECK_INTERVAL", 0); err != nil {
		return nil, err
	}
	if cfg.ProbeTimeout, err = envDuration("PG_PROBE_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.MaxConsecutiveFailures, err = envIntVal("PG_MAX_CONSECUTIVE_FAILURES", 0); err != nil {
		return nil, err
	}
	if cfg.QueryTimeout, err = envDuration("PG_QUERY_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.TxMaxRetries, err = envIntVal("PG_TX_MAX_RETRIES", 0); err != nil {
		return nil, err
	}
	if cfg.TxRetryDelay, err = envDuration("PG_TX_RETRY_DELAY", 0); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("env variable %s: %w", key, err)
	}
	return d, nil
}

func envIntVal(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("env variable %s: %w", key, err)
	}
	return n, nil
}

func envInt32(key string, def int32) (int32, error) {
	n, err := envIntVal(key, int(def))
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}

func envInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("env variable %s: %w", key, err)
	}
	return n, nil
}
