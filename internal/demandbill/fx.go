package demandbill

import (
	"github.com/smallbiznis/feeledger/internal/demandbill/service"
	"go.uber.org/fx"
)

var Module = fx.Module("demandbill.service",
	fx.Provide(service.NewService),
)
