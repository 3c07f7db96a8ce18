package monthlypayment

import (
	"github.com/smallbiznis/milkrun/internal/monthlypayment/repository"
	"github.com/smallbiznis/milkrun/internal/monthlypayment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("monthlypayment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
