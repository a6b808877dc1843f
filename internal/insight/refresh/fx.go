package refresh

import (
	"context"

	"github.com/smallbiznis/insightdesk/internal/clock"
	"github.com/smallbiznis/insightdesk/internal/config"
	"github.com/smallbiznis/insightdesk/internal/insight/stats"
	"github.com/smallbiznis/insightdesk/internal/observability/metrics"
	"github.com/smallbiznis/insightdesk/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("insight.refresh",
	fx.Provide(NewControllerFromEngine),
	fx.Provide(NewWorkerFromParams),
	fx.Invoke(runWorker),
)

type ControllerParams struct {
	fx.In

	Engine  *stats.Engine
	Clock   clock.Clock
	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.RefreshMetrics `optional:"true"`
}

func NewControllerFromEngine(p ControllerParams) *Controller {
	return NewController(p.Engine.Compute, Options{
		Clock:   p.Clock,
		Timeout: p.Config.Insight.StoreTimeout,
		Log:     p.Log,
		Metrics: p.Metrics,
	})
}

type WorkerParams struct {
	fx.In

	Controller *Controller
	Purger     Purger
	Locker     *ratelimit.Locker `optional:"true"`
	Tuning     *config.InsightTuningHolder
	Clock      clock.Clock
	Config     config.Config
	Log        *zap.Logger
	Metrics    *metrics.RefreshMetrics `optional:"true"`
}

func NewWorkerFromParams(p WorkerParams) *Worker {
	var lock Lock
	if p.Locker != nil {
		lock = p.Locker
	}
	return NewWorker(p.Controller, p.Purger, lock, p.Tuning, p.Clock, p.Config.Insight.StoreTimeout, p.Log, p.Metrics)
}

func runWorker(lc fx.Lifecycle, worker *Worker, controller *Controller) {
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			go worker.RunForever(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			if cancel != nil {
				cancel()
			}
			return controller.Close(stopCtx)
		},
	})
}
