package voucher

import (
	"github.com/smallbiznis/loyalty/internal/voucher/repository"
	"github.com/smallbiznis/loyalty/internal/voucher/service"
	"go.uber.org/fx"
)

var Module = fx.Module("voucher.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.ProvideTierReader),
	fx.Provide(service.New),
)
