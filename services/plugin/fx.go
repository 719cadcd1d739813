package plugin

import (
	"go.uber.org/fx"
)

var Module = fx.Module("plugin.collector",
	fx.Provide(
		NewMinioStore,
		fx.Annotate(NewObjectStoreCollector, fx.As(new(Collector))),
	),
)
