package penalty

import (
	"github.com/smallbiznis/milkrun/internal/penalty/repository"
	"github.com/smallbiznis/milkrun/internal/penalty/service"
	"go.uber.org/fx"
)

var Module = fx.Module("penalty.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
