package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/insightdesk/internal/config"
	"github.com/smallbiznis/insightdesk/internal/insight/domain"
	"github.com/smallbiznis/insightdesk/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Repo   domain.Repository
	Config config.Config
}

// Engine computes StatsSnapshots from full scans of the collection.
type Engine struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      domain.Repository
	batchSize int
	loc       *time.Location
}

func NewEngine(p Params) *Engine {
	return &Engine{
		db:        p.DB,
		log:       p.Log.Named("insight.stats"),
		repo:      p.Repo,
		batchSize: p.Config.Insight.ScanBatchSize,
		loc:       p.Config.Insight.LoadLocation(),
	}
}

// Compute runs the full scan and the today scan inside one read
// transaction. Any sub-scan failure fails the whole computation with
// ErrPartialAggregation; no partial snapshot is ever returned.
func (e *Engine) Compute(ctx context.Context, asOf time.Time) (domain.StatsSnapshot, error) {
	var snap domain.StatsSnapshot

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := newAccumulator(ctx, asOf)
		if err := e.repo.Scan(ctx, tx, domain.Predicate{}, e.batchSize, all.add); err != nil {
			return partial("scan all", err)
		}

		from := Midnight(asOf, e.loc)
		to := asOf.UTC()
		today := &todayCounter{ctx: ctx}
		p := domain.Predicate{GeneratedFrom: &from, GeneratedTo: &to}
		if err := e.repo.Scan(ctx, tx, p, e.batchSize, today.add); err != nil {
			return partial("scan today", err)
		}

		snap = all.finish()
		snap.TodayInsights = today.created
		snap.TodayRateLimited = today.rateLimited
		return nil
	}, db.ReadSnapshot(e.db))
	if err != nil {
		if !errors.Is(err, domain.ErrPartialAggregation) {
			err = partial("read snapshot", err)
		}
		return domain.StatsSnapshot{}, err
	}

	snap.ComputedAt = asOf.UTC()
	e.log.Debug("stats computed",
		zap.Int64("total_insights", snap.TotalInsights),
		zap.Int64("total_users", snap.TotalUsers),
	)
	return snap, nil
}

// Midnight returns the start of asOf's day in loc, in UTC.
func Midnight(asOf time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := asOf.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).UTC()
}

func partial(op string, err error) error {
	return fmt.Errorf("%w: %w", domain.ErrPartialAggregation, domain.StoreError(op, err))
}
