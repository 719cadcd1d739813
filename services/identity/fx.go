package identity

import (
	"go.uber.org/fx"
)

var Module = fx.Module("identity.service",
	fx.Provide(
		NewRepository,
		fx.Annotate(NewVaultDataStore, fx.As(new(DataStore))),
		NewService,
	),
)
