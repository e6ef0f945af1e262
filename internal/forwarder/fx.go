package forwarder

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/plantwatch/internal/config"
	obsmetrics "github.com/smallbiznis/plantwatch/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultSupervisorAddr = "http://127.0.0.1:8080"

var Module = fx.Module("router.forwarder",
	fx.Provide(FromAppConfig),
	fx.Provide(NewTargetFromConfig),
	fx.Provide(NewFromParams),
	fx.Invoke(runForwarder),
)

func NewTargetFromConfig(cfg config.Config) Target {
	addr := strings.TrimSpace(cfg.Router.SupervisorAddr)
	if addr == "" {
		addr = defaultSupervisorAddr
	}
	return NewHTTPTarget(addr, &http.Client{Timeout: 30 * time.Second})
}

type Params struct {
	fx.In

	Config  Config
	Target  Target
	Log     *zap.Logger
	Metrics *obsmetrics.PipelineMetrics `optional:"true"`
}

func NewFromParams(p Params) *Forwarder {
	return New(p.Config, p.Target, p.Log, p.Metrics)
}

func runForwarder(lc fx.Lifecycle, f *Forwarder) {
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go f.Run(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			if cancel == nil {
				return nil
			}
			cancel()
			select {
			case <-f.Done():
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
