package userdirectory

import (
	"context"

	"github.com/smallbiznis/insightdesk/internal/cache"
	"github.com/smallbiznis/insightdesk/internal/clock"
	"github.com/smallbiznis/insightdesk/internal/config"
	"github.com/smallbiznis/insightdesk/internal/userdirectory/domain"
	"github.com/smallbiznis/insightdesk/internal/userdirectory/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("userdirectory",
	fx.Provide(repository.Provide),
	fx.Provide(NewStoreDirectory),
	fx.Provide(NewCachedDirectory),
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Repo domain.Repository
}

// StoreDirectory reads identities straight from the users table.
type StoreDirectory struct {
	db   *gorm.DB
	repo domain.Repository
}

func NewStoreDirectory(p Params) *StoreDirectory {
	return &StoreDirectory{db: p.DB, repo: p.Repo}
}

func (d *StoreDirectory) ListAll(ctx context.Context) ([]domain.UserIdentity, error) {
	users, err := d.repo.ListAll(ctx, d.db)
	if err != nil {
		return nil, err
	}
	out := make([]domain.UserIdentity, 0, len(users))
	for _, user := range users {
		out = append(out, user.Identity())
	}
	return out, nil
}

type CachedParams struct {
	fx.In

	Store  *StoreDirectory
	Config config.Config
	Clock  clock.Clock
	Log    *zap.Logger
}

// NewCachedDirectory is the Directory the rest of the app consumes.
func NewCachedDirectory(p CachedParams) domain.Directory {
	return cache.NewDirectoryCache(p.Store, p.Config.Insight.DirectoryTTL, p.Clock, p.Log)
}
