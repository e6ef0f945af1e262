package registry

import (
	"github.com/smallbiznis/plantwatch/internal/registry/repository"
	"github.com/smallbiznis/plantwatch/internal/registry/service"
	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewResolver),
)
