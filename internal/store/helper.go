package store

import (
	"context"
	"fmt"

	"github.com/kong/pg-route-client/pkg/manager"
	"github.com/kong/pg-route-client/pkg/pool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SetupTestDatabase starts a throwaway Postgres container, applies the
// embedded migrations and returns a manager config pointed at it. The caller
// owns the container lifetime.
func SetupTestDatabase(ctx context.Context) (testcontainers.Container, *manager.Config, error) {
	containerReq := testcontainers.ContainerRequest{
		Image:        "postgres:latest",
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp"),
		Env: map[string]string{
			"POSTGRES_DB":       "koko",
			"POSTGRES_PASSWORD": "koko",
			"POSTGRES_USER":     "koko",
		},
	}
	dbContainer, err := testcontainers.GenericContainer(ctx,
		testcontainers.GenericContainerRequest{
			ContainerRequest: containerReq,
			Started:          true,
		})
	if err != nil {
		return nil, nil, err
	}
	port, err := dbContainer.MappedPort(ctx, "5432")
	if err != nil {
		return nil, nil, err
	}
	host, err := dbContainer.Host(ctx)
	if err != nil {
		return nil, nil, err
	}

	dbURI := fmt.Sprintf("postgres://koko:koko@%v:%v/koko?sslmode=disable", host, port.Port())
	if err := MigrateDB(dbURI); err != nil {
		return nil, nil, err
	}

	cfg := &manager.Config{
		Primary: pool.Config{
			Host:     host,
			Port:     port.Port(),
			Database: "koko",
			User:     "koko",
			Password: "koko",
			AppName:  "pg-route-client-test",
			MaxConns: 10,
			MinConns: 2,
		},
		// No replica container: replication runs disabled and every
		// statement lands on primary.
		EnableReadReplication: false,
	}
	return dbContainer, cfg, nil
}

var Logger *zap.Logger

// SetupLogging configure parent logger with logLevel.
func SetupLogging(logLevel string) (*zap.Logger, error) {
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	zapConfig.Level.SetLevel(level)
	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	Logger = logger
	return logger, nil
}
