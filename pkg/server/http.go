package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"inventory-collector/pkg/config"
	"inventory-collector/pkg/health"
	"inventory-collector/pkg/metrics"
)

// ProvideOpsServer serves health checks and prometheus metrics.
var ProvideOpsServer = fx.Module("ops.server",
	fx.Provide(NewRouter, NewOpsServer),
	fx.Invoke(Run),
)

type Server struct {
	server *http.Server
}

type RouterParams struct {
	fx.In
	Config  *config.Config
	Health  health.HealthService
	Metrics *metrics.Registry
}

func NewRouter(p RouterParams) *gin.Engine {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)
	r.GET("/metrics", gin.WrapH(p.Metrics.Handler()))
	return r
}

func listenAddr(addr string) string {
	if strings.Contains(addr, ":") {
		return addr
	}
	return fmt.Sprintf(":%s", addr)
}

func NewOpsServer(cfg *config.Config, router *gin.Engine) *Server {
	return &Server{
		server: &http.Server{
			Addr:         listenAddr(cfg.OpsServer.Addr),
			Handler:      router,
			ReadTimeout:  cfg.OpsServer.ReadTimeout,
			WriteTimeout: cfg.OpsServer.WriteTimeout,
		},
	}
}

func Run(lc fx.Lifecycle, srv *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			zap.L().Info("Starting ops HTTP server", zap.String("addr", srv.server.Addr))
			go func() {
				if err := srv.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					zap.L().Error("ops HTTP server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Shutting down ops HTTP server gracefully...")
			return srv.server.Shutdown(ctx)
		},
	})
}
