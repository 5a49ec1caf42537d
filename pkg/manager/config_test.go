package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PG_USER", "koko")
	t.Setenv("PG_PASSWORD", "koko")
	t.Setenv("PG_HOST", "primary.db.local")
	t.Setenv("PG_PORT", "5432")
	t.Setenv("PG_DATABASE", "koko")
	t.Setenv("PG_RO_HOST", "")
	t.Setenv("ENABLE_TLS", "")
	t.Setenv("PG_ENABLE_READ_REPLICATION", "")
}

func TestLoadConfigDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "primary.db.local", cfg.Primary.Host)
	require.Equal(t, defaultAppName, cfg.Primary.AppName)
	require.False(t, cfg.Primary.EnableTLS)
	require.Nil(t, cfg.Replica)
	require.True(t, cfg.EnableReadReplication)

	require.Equal(t, defaultHealthCheckInterval, cfg.HealthCheckInterval)
	require.Equal(t, defaultProbeTimeout, cfg.ProbeTimeout)
	require.Equal(t, defaultMaxConsecutiveFailures, cfg.MaxConsecutiveFailures)
	require.Equal(t, defaultQueryTimeout, cfg.QueryTimeout)
	require.Equal(t, defaultTxMaxRetries, cfg.TxMaxRetries)
	require.Equal(t, defaultTxRetryDelay, cfg.TxRetryDelay)
}

func TestLoadConfigReplicaInheritsPrimary(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PG_RO_HOST", "replica.db.local")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg.Replica)
	require.Equal(t, "replica.db.local", cfg.Replica.Host)
	require.Equal(t, cfg.Primary.User, cfg.Replica.User)
	require.Equal(t, cfg.Primary.Database, cfg.Replica.Database)
	require.Equal(t, cfg.Primary.Port, cfg.Replica.Port)
}

func TestLoadConfigOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PG_APP_NAME", "registry-api")
	t.Setenv("PG_MAX_CONNS", "10")
	t.Setenv("PG_MIN_CONNS", "2")
	t.Setenv("PG_IDLE_TIMEOUT", "10m")
	t.Setenv("PG_MAX_CONN_USES", "500")
	t.Setenv("PG_STATEMENT_TIMEOUT", "15s")
	t.Setenv("PG_HEALTH_CHECK_INTERVAL", "10s")
	t.Setenv("PG_QUERY_TIMEOUT", "5s")
	t.Setenv("PG_TX_MAX_RETRIES", "5")
	t.Setenv("PG_TX_RETRY_DELAY", "250ms")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "registry-api", cfg.Primary.AppName)
	require.Equal(t, int32(10), cfg.Primary.MaxConns)
	require.Equal(t, int32(2), cfg.Primary.MinConns)
	require.Equal(t, time.Minute*10, cfg.Primary.MaxConnIdleTime)
	require.Equal(t, int64(500), cfg.Primary.MaxConnUses)
	require.Equal(t, time.Second*15, cfg.Primary.StatementTimeout)
	require.Equal(t, time.Second*10, cfg.HealthCheckInterval)
	require.Equal(t, time.Second*5, cfg.QueryTimeout)
	require.Equal(t, 5, cfg.TxMaxRetries)
	require.Equal(t, time.Millisecond*250, cfg.TxRetryDelay)
}

func TestLoadConfigDisableReplication(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PG_ENABLE_READ_REPLICATION", "no")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.False(t, cfg.EnableReadReplication)
}

func TestLoadConfigEnableTLS(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ENABLE_TLS", "yes")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.Primary.EnableTLS)
	require.Equal(t, caBundleFSPath, cfg.Primary.CABundleFSPath)
}

func TestLoadConfigMissingUser(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PG_USER", "")

	_, err := LoadConfig()
	require.ErrorContains(t, err, "user cannot be empty")
}

func TestLoadConfigBadDuration(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PG_QUERY_TIMEOUT", "soon")

	_, err := LoadConfig()
	require.ErrorContains(t, err, "PG_QUERY_TIMEOUT")
}
