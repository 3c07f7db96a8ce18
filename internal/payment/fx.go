package payment

import (
	"github.com/smallbiznis/milkrun/internal/payment/gateway"
	"github.com/smallbiznis/milkrun/internal/payment/repository"
	paymentservice "github.com/smallbiznis/milkrun/internal/payment/service"
	"github.com/smallbiznis/milkrun/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(gateway.Provide),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
