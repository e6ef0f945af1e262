package sink

import (
	"context"

	"github.com/smallbiznis/plantwatch/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("sink",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
}

// New picks the sink from whichever backend is configured, InfluxDB first.
func New(p Params) (Sink, error) {
	log := p.Log.Named("sink")
	cfg := p.Config

	switch {
	case cfg.Influx.Enabled():
		s := NewInflux(cfg.Influx, cfg.Supervisor.SinkTimeout)
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error {
				s.Close()
				return nil
			},
		})
		log.Info("telemetry sink selected", zap.String("sink", s.Name()), zap.String("bucket", cfg.Influx.Bucket))
		return s, nil
	case cfg.Dynamo.Enabled():
		s, err := NewDynamo(context.Background(), cfg.Dynamo)
		if err != nil {
			return nil, err
		}
		log.Info("telemetry sink selected", zap.String("sink", s.Name()), zap.String("table", cfg.Dynamo.Table))
		return s, nil
	default:
		s := NewMemory(DefaultMemoryCapacity)
		log.Info("telemetry sink selected", zap.String("sink", s.Name()))
		return s, nil
	}
}
