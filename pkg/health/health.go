package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/vault-client-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps,omitempty"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type check struct {
	name string
	ping func(ctx context.Context) error
}

type health struct {
	checks  []check
	timeout time.Duration
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
	Vault *vault.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	h := &health{timeout: 3 * time.Second}

	if p.DB != nil {
		db := p.DB
		h.checks = append(h.checks, check{name: db.Name(), ping: func(ctx context.Context) error {
			sql, err := db.DB()
			if err != nil {
				return err
			}
			return sql.PingContext(ctx)
		}})
	}
	if p.Redis != nil {
		rdb := p.Redis
		h.checks = append(h.checks, check{name: "redis", ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	if p.Vault != nil {
		client := p.Vault
		h.checks = append(h.checks, check{name: "vault", ping: func(ctx context.Context) error {
			_, err := client.System.ReadHealthStatus(ctx)
			return err
		}})
	}

	return h
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  StatusHealthy,
		Message: "OK",
	})
}

// Readiness pings every dependency and answers 503 when one of them fails.
func (h *health) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	this := &Health{
		Status:  StatusHealthy,
		Message: "OK",
		Deps:    make([]Dependency, 0, len(h.checks)),
	}
	code := http.StatusOK

	for _, chk := range h.checks {
		dep := Dependency{Name: chk.name, Status: StatusHealthy, Message: "OK"}
		if err := chk.ping(ctx); err != nil {
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
			this.Status = StatusUnhealthy
			this.Message = chk.name + " is unavailable"
			code = http.StatusServiceUnavailable
		}
		this.Deps = append(this.Deps, dep)
	}

	c.JSON(code, this)
}
