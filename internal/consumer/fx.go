package consumer

import (
	"context"

	"github.com/smallbiznis/loyalty/internal/config"
	obsmetrics "github.com/smallbiznis/loyalty/internal/observability/metrics"
	pointsdomain "github.com/smallbiznis/loyalty/internal/points/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Ledger  pointsdomain.Service
	Metrics *obsmetrics.Metrics `optional:"true"`
}

var Module = fx.Module("consumer",
	fx.Invoke(Register),
)

// Register starts the order consumer when AMQP_URL is configured.
func Register(lc fx.Lifecycle, p Params) {
	if !p.Config.AMQP.Enabled() {
		p.Log.Named("consumer").Info("amqp not configured, order consumer disabled")
		return
	}
	c := New(p.Config.AMQP, p.Log, NewHandler(p.Ledger, p.Log, p.Metrics))
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return c.Start()
		},
		OnStop: func(context.Context) error {
			c.Close()
			return nil
		},
	})
}
