package ledger

import (
	"github.com/smallbiznis/plantwatch/internal/ledger/recovery"
	"github.com/smallbiznis/plantwatch/internal/ledger/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	fx.Provide(repository.Provide),
	recovery.Module,
)
