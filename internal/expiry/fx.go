package expiry

import (
	"github.com/smallbiznis/loyalty/internal/expiry/service"
	"go.uber.org/fx"
)

var Module = fx.Module("expiry.service",
	fx.Provide(service.New),
)
