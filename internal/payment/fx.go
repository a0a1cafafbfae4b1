package payment

import (
	"github.com/smallbiznis/muanapay/internal/payment/repository"
	paymentservice "github.com/smallbiznis/muanapay/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(paymentservice.NewService),
)
