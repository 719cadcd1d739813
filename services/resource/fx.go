package resource

import (
	"go.uber.org/fx"

	"inventory-collector/services/history"
)

var Module = fx.Module("resource.service",
	fx.Provide(
		NewStore,
		NewResolver,
		history.NewEngine,
		NewService,
	),
)
