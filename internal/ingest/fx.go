package ingest

import (
	"github.com/smallbiznis/plantwatch/internal/ingest/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ingest.service",
	fx.Provide(service.NewService),
)
