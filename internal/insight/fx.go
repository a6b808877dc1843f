package insight

import (
	"github.com/smallbiznis/insightdesk/internal/insight/domain"
	"github.com/smallbiznis/insightdesk/internal/insight/events"
	"github.com/smallbiznis/insightdesk/internal/insight/query"
	"github.com/smallbiznis/insightdesk/internal/insight/refresh"
	"github.com/smallbiznis/insightdesk/internal/insight/repository"
	"github.com/smallbiznis/insightdesk/internal/insight/service"
	"github.com/smallbiznis/insightdesk/internal/insight/stats"
	"go.uber.org/fx"
)

var Module = fx.Module("insight.service",
	fx.Provide(repository.Provide),
	fx.Provide(stats.NewEngine),
	query.Module,
	refresh.Module,
	events.Module,
	fx.Provide(service.New),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
	fx.Provide(func(s *service.Service) refresh.Purger { return s }),
)
