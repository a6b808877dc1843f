package events

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/insightdesk/internal/config"
	"github.com/smallbiznis/insightdesk/internal/insight/refresh"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("insight.events",
	fx.Provide(NewHub),
	fx.Provide(newBus),
	fx.Provide(func(b *Bus) Publisher { return b }),
	fx.Provide(newListener),
	fx.Invoke(run),
)

type busParams struct {
	fx.In

	Hub    *Hub
	Client *redis.Client `optional:"true"`
	Config config.Config
	Log    *zap.Logger
}

func newBus(p busParams) *Bus {
	return NewBus(p.Hub, p.Client, p.Config.Insight.ChangeChannel, Origin(p.Config.NodeID), p.Log)
}

func newListener(hub *Hub, bus *Bus, controller *refresh.Controller, cfg config.Config, log *zap.Logger) *Listener {
	return NewListener(hub, controller, bus.Origin(), cfg.Insight.ChangeDebounce, log)
}

func run(lc fx.Lifecycle, bus *Bus, listener *Listener, log *zap.Logger) {
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())
			if err := bus.Forward(runCtx); err != nil {
				cancel()
				return err
			}
			go func() {
				if err := listener.Run(runCtx); err != nil {
					log.Warn("change listener stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}
