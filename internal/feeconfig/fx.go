package feeconfig

import (
	"github.com/smallbiznis/feeledger/internal/feeconfig/service"
	"go.uber.org/fx"
)

var Module = fx.Module("feeconfig.service",
	fx.Provide(service.NewService),
)
