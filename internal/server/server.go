package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/plantwatch/internal/config"
	"github.com/smallbiznis/plantwatch/internal/ingest"
	ingestdomain "github.com/smallbiznis/plantwatch/internal/ingest/domain"
	"github.com/smallbiznis/plantwatch/internal/ledger"
	"github.com/smallbiznis/plantwatch/internal/observability"
	obsmiddleware "github.com/smallbiznis/plantwatch/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/plantwatch/internal/observability/metrics"
	obstracing "github.com/smallbiznis/plantwatch/internal/observability/tracing"
	"github.com/smallbiznis/plantwatch/internal/plantlock"
	"github.com/smallbiznis/plantwatch/internal/plantstate"
	plantstatedomain "github.com/smallbiznis/plantwatch/internal/plantstate/domain"
	"github.com/smallbiznis/plantwatch/internal/plantstate/liveevents"
	"github.com/smallbiznis/plantwatch/internal/publisher"
	"github.com/smallbiznis/plantwatch/internal/registry"
	"github.com/smallbiznis/plantwatch/internal/sink"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultBindAddr = ":8080"

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	registry.Module,
	ledger.Module,
	plantstate.Module,
	plantlock.Module,
	sink.Module,
	publisher.Module,
	ingest.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.Supervisor.BindAddr)
	if addr == "" {
		addr = defaultBindAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.String("addr", addr), zap.Error(err))
				}
			}()
			log.Info("supervisor listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	ingestSvc  ingestdomain.Service
	stateSvc   plantstatedomain.Service
	liveEvents *liveevents.Hub
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	IngestSvc  ingestdomain.Service
	StateSvc   plantstatedomain.Service
	LiveEvents *liveevents.Hub `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		ingestSvc:  p.IngestSvc,
		stateSvc:   p.StateSvc,
		liveEvents: p.LiveEvents,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	api.POST("/ingest", MaxBodyBytes(maxIngestBodyBytes), s.IngestBatch)

	plants := api.Group("/plants/:id")
	{
		plants.GET("/state", s.GetPlantState)
		plants.GET("/ticker", s.ListPlantTicker)
		plants.GET("/stream", s.StreamPlantLiveEvents)
	}
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
