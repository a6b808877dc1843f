package migration

import (
	"github.com/smallbiznis/insightdesk/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.Insight.RunMigrations {
			log.Info("schema migrations disabled")
			return nil
		}
		return Apply(conn)
	}),
)
