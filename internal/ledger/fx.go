package ledger

import (
	feeconfigdomain "github.com/smallbiznis/feeledger/internal/feeconfig/domain"
	"github.com/smallbiznis/feeledger/internal/ledger/domain"
	"github.com/smallbiznis/feeledger/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(service.NewService),
	fx.Provide(func(svc domain.Service) feeconfigdomain.StructureUsage { return svc }),
)
