package query

import (
	"context"
	"time"

	"github.com/smallbiznis/insightdesk/internal/config"
	"github.com/smallbiznis/insightdesk/internal/insight/domain"
	userdomain "github.com/smallbiznis/insightdesk/internal/userdirectory/domain"
	"github.com/smallbiznis/insightdesk/pkg/db"
	"github.com/smallbiznis/insightdesk/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("insight.query",
	fx.Provide(NewOrchestrator),
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Repo      domain.Repository
	Directory userdomain.Directory
	Config    config.Config
}

// Orchestrator executes translated queries and decorates the raw records.
// It never writes.
type Orchestrator struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      domain.Repository
	directory userdomain.Directory
	timeout   time.Duration
}

func NewOrchestrator(p Params) *Orchestrator {
	timeout := p.Config.Insight.StoreTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Orchestrator{
		db:        p.DB,
		log:       p.Log.Named("insight.query"),
		repo:      p.Repo,
		directory: p.Directory,
		timeout:   timeout,
	}
}

// Page counts and reads one page inside a single read transaction so the
// total and the rows describe the same snapshot. A page past the end comes
// back empty with the true total.
func (o *Orchestrator) Page(ctx context.Context, q domain.Query, now time.Time) (domain.ResultPage, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var (
		rows  []domain.Insight
		total int64
	)
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rows, total, err = o.repo.Query(ctx, tx, q)
		return err
	}, db.ReadSnapshot(o.db))
	if err != nil {
		return domain.ResultPage{}, domain.StoreError("query page", err)
	}

	return domain.ResultPage{
		Items:    o.Decorate(ctx, rows, now),
		PageInfo: pagination.BuildPageInfo(q.Page, q.PageSize, total),
		ServedAt: now,
	}, nil
}

// Decorate joins owner identities and derived status onto rows. A
// directory failure degrades every owner to its fallback label.
func (o *Orchestrator) Decorate(ctx context.Context, rows []domain.Insight, now time.Time) []domain.InsightResponse {
	out := make([]domain.InsightResponse, 0, len(rows))
	if len(rows) == 0 {
		return out
	}

	identities := o.identities(ctx)
	for _, row := range rows {
		out = append(out, row.Response(summarize(identities, row.UserID), now))
	}
	return out
}

func (o *Orchestrator) identities(ctx context.Context) map[string]userdomain.UserIdentity {
	if o.directory == nil {
		return nil
	}
	users, err := o.directory.ListAll(ctx)
	if err != nil {
		o.log.Warn("user directory unavailable, using fallback names", zap.Error(err))
		return nil
	}
	return userdomain.Index(users)
}

func summarize(identities map[string]userdomain.UserIdentity, userID string) domain.UserSummary {
	identity, ok := identities[userID]
	if !ok || identity.DisplayName == "" {
		return domain.FallbackUser(userID)
	}
	return domain.UserSummary{
		ID:          identity.ID,
		DisplayName: identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
		Role:        identity.Role,
	}
}
