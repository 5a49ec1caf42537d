package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/kong/pg-route-client/pkg/events"
	"github.com/kong/pg-route-client/pkg/manager"
	"github.com/kong/pg-route-client/pkg/metrics"
	"go.uber.org/zap"
)

type appContext struct {
	Manager *manager.Manager
	Logger  *zap.Logger
}

func main() {
	cfg, err := manager.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := SetupLogging("info")
	if err != nil {
		log.Fatal(err)
	}

	if addr := os.Getenv("DD_AGENT_ADDR"); addr != "" {
		if err := metrics.Setup(addr, "pg_route_client."); err != nil {
			logger.Warn("statsd setup failed, metrics disabled", zap.Error(err))
		}
	}

	mgr, err := manager.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("db initialization failed", zap.Error(err))
	}
	defer mgr.Close()

	mgr.Subscribe(emitMetrics)
	mgr.Subscribe(func(ev events.Event) {
		logEvent(logger, ev)
	})

	ac := &appContext{
		Manager: mgr,
		Logger:  logger,
	}
	ac.Logger.Info("Application is running on : 8080 .....")
	if err := http.ListenAndServe("0.0.0.0:8080", ac.routes()); err != nil {
		logger.Error("http server stopped", zap.Error(err))
	}
}

func emitMetrics(ev events.Event) {
	roleTag := "pg_role:" + string(ev.Role)
	switch ev.Kind {
	case events.KindHealthCheck:
		v := 0.0
		if ev.Healthy {
			v = 1.0
		}
		metrics.Gauge("pool_healthy", v, roleTag)
	case events.KindPoolUnhealthy:
		metrics.Count("pool_unhealthy", 1, roleTag)
	case events.KindQuery:
		metrics.Count("queries", 1, roleTag)
	case events.KindQueryError:
		metrics.Count("query_errors", 1, roleTag)
	case events.KindConnectionError:
		metrics.Count("connection_errors", 1, roleTag)
	}
}

func logEvent(logger *zap.Logger, ev events.Event) {
	fields := []zap.Field{
		zap.String("kind", ev.Kind.String()),
		zap.String("role", string(ev.Role)),
	}
	if ev.Err != nil {
		fields = append(fields, zap.Error(ev.Err))
	}
	switch ev.Kind {
	case events.KindQueryError, events.KindConnectionError, events.KindPoolError, events.KindPoolUnhealthy:
		logger.Warn("db event", fields...)
	case events.KindQuery, events.KindHealthCheck:
		logger.Debug("db event", fields...)
	default:
		logger.Info("db event", fields...)
	}
}
