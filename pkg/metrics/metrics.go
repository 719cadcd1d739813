package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics", fx.Provide(NewRegistry))

// Registry wraps the default prometheus registry, which the gorm plugin
// also reports to.
type Registry struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

func NewRegistry() *Registry {
	return &Registry{registerer: prometheus.DefaultRegisterer, gatherer: prometheus.DefaultGatherer}
}

// NewIsolatedRegistry is used by tests.
func NewIsolatedRegistry() *Registry {
	reg := prometheus.NewRegistry()
	return &Registry{registerer: reg, gatherer: reg}
}

// Register adds collectors, ignoring ones already registered.
func (r *Registry) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := r.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.gatherer
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
