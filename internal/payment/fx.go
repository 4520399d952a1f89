package payment

import (
	"github.com/smallbiznis/folio/internal/payment/recorder"
	"github.com/smallbiznis/folio/internal/payment/repository"
	paymentservice "github.com/smallbiznis/folio/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	recorder.Module,
	fx.Provide(paymentservice.NewService),
)
