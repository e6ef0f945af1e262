package main

import (
	"os"

	"github.com/smallbiznis/plantwatch/internal/config"
	"github.com/smallbiznis/plantwatch/internal/observability"
	"github.com/smallbiznis/plantwatch/internal/router"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	if os.Getenv("PLANTWATCH_COMPONENT") == "" {
		_ = os.Setenv("PLANTWATCH_COMPONENT", "router")
	}

	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		options(),
	)
	app.Run()
}

func options() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		router.Module,
	)
}
