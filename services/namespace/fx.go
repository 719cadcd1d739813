package namespace

import "go.uber.org/fx"

var Module = fx.Module("namespace.service", fx.Provide(NewService))
