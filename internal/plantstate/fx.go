package plantstate

import (
	"github.com/smallbiznis/plantwatch/internal/plantstate/liveevents"
	"github.com/smallbiznis/plantwatch/internal/plantstate/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plantstate",
	fx.Provide(service.NewService),
	fx.Provide(liveevents.NewHub),
)
