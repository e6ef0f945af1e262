package publisher

import (
	"context"

	"github.com/smallbiznis/plantwatch/internal/config"
	obsmetrics "github.com/smallbiznis/plantwatch/internal/observability/metrics"
	"github.com/smallbiznis/plantwatch/internal/plantstate/liveevents"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("publisher",
	fx.Provide(NewFromConfig),
	fx.Provide(NewDispatcherFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) (Publisher, error) {
	pub, err := New(context.Background(), cfg.BusURL, log)
	if err != nil {
		return nil, err
	}
	log.Named("publisher").Info("status change publisher ready", zap.String("transport", pub.Name()))
	return pub, nil
}

type DispatcherParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Config     config.Config
	Log        *zap.Logger
	Publisher  Publisher
	Hub        *liveevents.Hub
	Metrics    *obsmetrics.PipelineMetrics `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

func NewDispatcherFromConfig(p DispatcherParams) *Dispatcher {
	d := NewDispatcher(p.Publisher, p.Hub, p.Log, DispatcherConfig{
		QueueSize:      p.Config.Supervisor.PublishQueueSize,
		PublishTimeout: p.Config.Supervisor.PublishTimeout,
	}, p.Metrics, p.ObsMetrics)

	p.Lifecycle.Append(fx.Hook{
		OnStop: d.Close,
	})
	return d
}
