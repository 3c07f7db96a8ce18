package status

import "go.uber.org/fx"

var Module = fx.Module("status.engine",
	fx.Provide(NewEngine),
)
