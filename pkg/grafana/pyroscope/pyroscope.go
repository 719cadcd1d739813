package pyroscope

import (
	"context"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"inventory-collector/pkg/config"
)

// ProvidePyroscope starts continuous profiling when PYROSCOPE.ADDR is set.
var ProvidePyroscope = fx.Module("pyroscope",
	fx.Provide(NewConfig),
	fx.Invoke(Start),
)

func NewConfig(cfg *config.Config) pyroscope.Config {
	return pyroscope.Config{
		ApplicationName: cfg.AppName,
		ServerAddress:   cfg.Pyroscope.Addr,
		ProfileTypes: []pyroscope.ProfileType{
			// these profile types are enabled by default:
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,

			// these profile types are optional:
			pyroscope.ProfileGoroutines,
			pyroscope.ProfileMutexCount,
			pyroscope.ProfileMutexDuration,
		},
		Tags: map[string]string{
			"service_name": cfg.AppName,
			"env":          cfg.AppEnv,
		},
	}
}

func Start(lc fx.Lifecycle, cfg pyroscope.Config) error {
	if cfg.ServerAddress == "" {
		zap.L().Info("pyroscope disabled, PYROSCOPE.ADDR is empty")
		return nil
	}

	zap.L().Info("starting pyroscope", zap.String("app_name", cfg.ApplicationName), zap.String("pyroscope_addr", cfg.ServerAddress))
	profiler, err := pyroscope.Start(cfg)
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Shutting down Pyroscope")
			return profiler.Stop()
		},
	})
	return nil
}
