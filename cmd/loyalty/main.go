package main

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyalty/internal/account"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/consumer"
	"github.com/smallbiznis/loyalty/internal/events"
	"github.com/smallbiznis/loyalty/internal/expiry"
	"github.com/smallbiznis/loyalty/internal/lock"
	"github.com/smallbiznis/loyalty/internal/logger"
	"github.com/smallbiznis/loyalty/internal/migration"
	"github.com/smallbiznis/loyalty/internal/observability"
	"github.com/smallbiznis/loyalty/internal/points"
	"github.com/smallbiznis/loyalty/internal/reconcile"
	"github.com/smallbiznis/loyalty/internal/scheduler"
	"github.com/smallbiznis/loyalty/internal/tier"
	"github.com/smallbiznis/loyalty/internal/voucher"
	"github.com/smallbiznis/loyalty/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		lock.Module,

		// Loyalty core
		account.Module,
		events.Module,
		points.Module,
		expiry.Module,
		tier.Module,
		voucher.Module,
		reconcile.Module,

		// Drivers
		scheduler.Module,
		consumer.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.SnowflakeNode, err)
	}
	return node, nil
}
