package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"inventory-collector/pkg/config"
	"inventory-collector/pkg/db"
	"inventory-collector/pkg/gen"
	"inventory-collector/pkg/grafana/pyroscope"
	"inventory-collector/pkg/hashistack/secretmanager"
	"inventory-collector/pkg/health"
	"inventory-collector/pkg/kafka"
	"inventory-collector/pkg/logger"
	"inventory-collector/pkg/metrics"
	"inventory-collector/pkg/minio"
	"inventory-collector/pkg/otelcol"
	"inventory-collector/pkg/queue"
	"inventory-collector/pkg/redis"
	"inventory-collector/pkg/server"
	"inventory-collector/services/bootstrap"
	"inventory-collector/services/collecting"
	"inventory-collector/services/collector"
	"inventory-collector/services/identity"
	"inventory-collector/services/job"
	"inventory-collector/services/namespace"
	"inventory-collector/services/plugin"
	"inventory-collector/services/resource"
	"inventory-collector/services/rule"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		otelcol.Module,
		pyroscope.ProvidePyroscope,
		db.Module,
		redis.Module,
		queue.Client,
		queue.Server,
		secretmanager.Module,
		minio.Client,
		kafka.Module,
		gen.Module,
		metrics.Module,
		health.Module,
		server.ProvideOpsServer,

		bootstrap.Module,
		identity.Module,
		plugin.Module,
		rule.Module,
		job.Module,
		job.SweeperModule,
		collector.Module,
		resource.Module,
		namespace.Module,
		collecting.Module,
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
