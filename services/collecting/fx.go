package collecting

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"

	"inventory-collector/pkg/metrics"
	"inventory-collector/pkg/taskname"
	"inventory-collector/services/identity"
	"inventory-collector/services/namespace"
	"inventory-collector/services/resource"
	"inventory-collector/services/rule"
)

var Module = fx.Module("collecting.executor",
	fx.Provide(
		fx.Annotate(func(s *identity.Service) *identity.Service { return s }, fx.As(new(SecretSource))),
		fx.Annotate(func(t *rule.Transformer) *rule.Transformer { return t }, fx.As(new(Transformer))),
		fx.Annotate(func(s *resource.Service) *resource.Service { return s }, fx.As(new(ResourceUpserter))),
		fx.Annotate(func(s *namespace.Service) *namespace.Service { return s }, fx.As(new(DeclarationStore))),
		NewExecutor,
	),
	fx.Invoke(registerHandler, registerMetrics),
)

func registerHandler(mux *asynq.ServeMux, e *Executor) {
	mux.HandleFunc(taskname.CollectorCollect, e.HandleCollectTask)
}

func registerMetrics(r *metrics.Registry) error {
	return r.Register(Collectors()...)
}
