package rule

import (
	"go.uber.org/fx"

	"inventory-collector/pkg/config"
	"inventory-collector/pkg/metrics"
)

var Module = fx.Module("rule.service",
	fx.Provide(
		NewRepository,
		newRuleCache,
		NewTransformer,
		NewService,
	),
	fx.Invoke(registerMetrics),
)

func newRuleCache(cfg *config.Config) *RuleCache {
	return NewRuleCache(cfg.Collector.RuleCacheTTL)
}

func registerMetrics(r *metrics.Registry) error {
	return r.Register(Collectors()...)
}
