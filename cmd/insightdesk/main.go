package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/insightdesk/internal/clock"
	"github.com/smallbiznis/insightdesk/internal/config"
	"github.com/smallbiznis/insightdesk/internal/insight"
	"github.com/smallbiznis/insightdesk/internal/migration"
	"github.com/smallbiznis/insightdesk/internal/observability"
	"github.com/smallbiznis/insightdesk/internal/ratelimit"
	"github.com/smallbiznis/insightdesk/internal/server"
	"github.com/smallbiznis/insightdesk/internal/userdirectory"
	"github.com/smallbiznis/insightdesk/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,

		// Functional Domains
		userdirectory.Module,
		insight.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
