package observability

import (
	"strings"

	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/smallbiznis/loyalty/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
	),
	fx.Invoke(ensureSchedulerMetrics),
)

func provideMetricsConfig(cfg config.Config) metrics.Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "loyalty"
	}
	return metrics.Config{
		Enabled:          cfg.OTelEnabled,
		ExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		ExporterProtocol: cfg.OTLPProtocol,
		ServiceName:      serviceName,
		Environment:      strings.TrimSpace(cfg.Environment),
	}
}

func ensureSchedulerMetrics(cfg metrics.Config) {
	metrics.SchedulerWithConfig(cfg)
}
