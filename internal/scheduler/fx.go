package scheduler

import (
	"context"

	expirydomain "github.com/smallbiznis/loyalty/internal/expiry/domain"
	tierdomain "github.com/smallbiznis/loyalty/internal/tier/domain"
	voucherdomain "github.com/smallbiznis/loyalty/internal/voucher/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(
		ProvideConfig,
		func(svc expirydomain.Service) ExpiryMaterializer { return svc },
		func(svc voucherdomain.Service) VoucherSweeper { return svc },
		func(svc tierdomain.Service) TierReviewer { return svc },
		New,
	),
	fx.Invoke(RegisterScheduler),
)

func RegisterScheduler(lc fx.Lifecycle, cfg Config, sched *Scheduler) {
	if !cfg.Enabled {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return sched.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return sched.Stop(stopCtx)
		},
	})
}
