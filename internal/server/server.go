package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/insightdesk/internal/config"
	insightdomain "github.com/smallbiznis/insightdesk/internal/insight/domain"
	"github.com/smallbiznis/insightdesk/internal/insight/events"
	"github.com/smallbiznis/insightdesk/internal/observability"
	obsmiddleware "github.com/smallbiznis/insightdesk/internal/observability/logger"
	obstracing "github.com/smallbiznis/insightdesk/internal/observability/tracing"
	"github.com/smallbiznis/insightdesk/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const changesRoute = "/admin/insights/changes"

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterAdminRoutes() }),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		SlowRequest:     obsCfg.SlowRequest,
		ErrorClassifier: classifyErrorForLog,
		StreamRoutes:    []string{changesRoute},
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	insightSvc insightdomain.Service
	quota      ratelimit.Quota
	changes    *events.Hub
	tuning     *config.InsightTuningHolder
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	InsightSvc insightdomain.Service
	Quota      ratelimit.Quota
	Changes    *events.Hub                 `optional:"true"`
	Tuning     *config.InsightTuningHolder `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		insightSvc: p.InsightSvc,
		quota:      p.Quota,
		changes:    p.Changes,
		tuning:     p.Tuning,
	}
}

// Handler exposes the engine for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) RegisterAdminRoutes() {
	admin := s.engine.Group("/admin")

	insights := admin.Group("/insights")
	{
		insights.GET("", s.ListInsights)
		insights.POST("", s.CreateInsight)
		insights.GET("/stats", s.GetInsightStats)
		insights.POST("/stats/refresh", s.RefreshInsightStats)
		insights.GET("/changes", s.StreamInsightChanges)
		insights.GET("/:id", s.GetInsight)
		insights.DELETE("/:id", s.DeleteInsight)
		insights.POST("/:id/regenerate", s.RegenerateInsight)
	}

	usage := admin.Group("/usage")
	{
		usage.GET("/:userId", s.GetUsage)
		usage.POST("/:userId/reset", s.ResetUsage)
	}
}
