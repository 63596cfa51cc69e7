package actioncost

import "go.uber.org/fx"

var Module = fx.Module("actioncost.service",
	fx.Provide(NewService),
)
