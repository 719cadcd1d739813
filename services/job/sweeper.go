package job

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"inventory-collector/pkg/config"
)

// Sweeper periodically fails jobs that never finished within the job timeout.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	timeout  time.Duration
}

func NewSweeper(m *Manager, cfg *config.Config) *Sweeper {
	return &Sweeper{
		manager:  m,
		interval: cfg.Collector.SweepInterval,
		timeout:  cfg.Collector.JobTimeout,
	}
}

func StartSweeper(lc fx.Lifecycle, s *Sweeper) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func (s *Sweeper) run(ctx context.Context) {
	if s.interval <= 0 || s.timeout <= 0 {
		zap.L().Warn("[Sweeper] disabled", zap.Duration("interval", s.interval), zap.Duration("timeout", s.timeout))
		return
	}
	zap.L().Info("[Sweeper] started job timeout sweeper",
		zap.Duration("interval", s.interval),
		zap.Duration("timeout", s.timeout),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			zap.L().Info("[Sweeper] stopped")
			return
		}
	}
}

// Sweep runs one pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	start := time.Now()
	n, err := s.manager.SweepTimedOut(ctx, s.timeout)
	if err != nil {
		zap.L().Error("[Sweeper] failed to sweep timed out jobs", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("[Sweeper] failed timed out jobs", zap.Int("count", n), zap.Duration("duration", time.Since(start)))
	}
}
