package router

import (
	"context"
	"strings"

	"github.com/smallbiznis/plantwatch/internal/config"
	"github.com/smallbiznis/plantwatch/internal/decoder"
	"github.com/smallbiznis/plantwatch/internal/forwarder"
	obsmetrics "github.com/smallbiznis/plantwatch/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultUDPAddr = "0.0.0.0:7000"

var Module = fx.Module("router",
	fx.Provide(config.NewDevicePolicyHolder),
	fx.Provide(newDecoder),
	forwarder.Module,
	fx.Provide(newRouter),
	fx.Invoke(runRouter),
	fx.Invoke(runMetrics),
)

func newDecoder(policy *config.DevicePolicyHolder, metrics *obsmetrics.PipelineMetrics) *decoder.Decoder {
	return decoder.New(policy, metrics)
}

type Params struct {
	fx.In

	Config    config.Config
	Decoder   *decoder.Decoder
	Forwarder *forwarder.Forwarder
	Log       *zap.Logger
	Metrics   *obsmetrics.PipelineMetrics `optional:"true"`
}

func newRouter(p Params) (*Router, error) {
	addr := strings.TrimSpace(p.Config.Router.UDPAddr)
	if addr == "" {
		addr = defaultUDPAddr
	}
	conn, err := Listen(addr)
	if err != nil {
		return nil, err
	}
	return New(conn, p.Decoder, p.Forwarder, p.Log, p.Metrics), nil
}

func runRouter(lc fx.Lifecycle, r *Router, log *zap.Logger) {
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go r.Run(ctx)
			log.Info("router listening", zap.Stringer("addr", r.Addr()))
			return nil
		},
		// Registered after the forwarder's hook, so the socket closes before
		// the forwarder flushes.
		OnStop: func(stopCtx context.Context) error {
			if cancel == nil {
				return nil
			}
			cancel()
			select {
			case <-r.Done():
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
