package job

import (
	"go.uber.org/fx"
)

var Module = fx.Module("job.service",
	fx.Provide(
		NewRepository,
		NewEventPublisher,
		NewManager,
	),
)

// SweeperModule runs the timeout sweep; only the worker process includes it.
var SweeperModule = fx.Module("job.sweeper",
	fx.Provide(NewSweeper),
	fx.Invoke(StartSweeper),
)
