package checker

import (
	"go.uber.org/fx"

	"github.com/creditlabs/creditd/internal/checker/service"
)

var Module = fx.Module("checker.service",
	fx.Provide(service.NewService),
)
