package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/plantwatch/internal/clock"
	"github.com/smallbiznis/plantwatch/internal/config"
	"github.com/smallbiznis/plantwatch/internal/migration"
	"github.com/smallbiznis/plantwatch/internal/observability"
	"github.com/smallbiznis/plantwatch/internal/server"
	"github.com/smallbiznis/plantwatch/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	if os.Getenv("PLANTWATCH_COMPONENT") == "" {
		_ = os.Setenv("PLANTWATCH_COMPONENT", "supervisor")
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
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// registry, ledger, plant state, sink, publisher, ingest and HTTP
		server.Module,
	)
}

// RegisterSnowflake reads the node id from SNOWFLAKE_NODE_ID so that several
// supervisors can share one database.
func RegisterSnowflake() *snowflake.Node {
	nodeID := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			panic(err)
		}
		nodeID = parsed
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		panic(err)
	}
	return node
}
