package collector

import (
	"go.uber.org/fx"

	"inventory-collector/services/identity"
)

var Module = fx.Module("collector.service",
	fx.Provide(
		NewRepository,
		NewService,
		provideSecretResolver,
		NewOrchestrator,
	),
)

func provideSecretResolver(s *identity.Service) SecretResolver {
	return s
}
