package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/insightdesk/internal/insight/domain"
	"github.com/smallbiznis/insightdesk/pkg/db/option"
	"gorm.io/gorm"
)

// scanColumns is everything aggregation reads; summary and analysis stay on
// disk during full scans.
var scanColumns = []string{
	"id",
	"user_id",
	"service",
	"confidence",
	"risk_level",
	"processing_status",
	"generated_at",
	"expires_at",
	"generation_time_ms",
	"total_tokens",
	"rate_limited",
}

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, insight *domain.Insight) error {
	if insight == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Create(insight).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Insight, error) {
	var item domain.Insight
	err := db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) DeleteByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Insight{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateByID(ctx context.Context, db *gorm.DB, id snowflake.ID, patch domain.Patch) (bool, error) {
	updates := map[string]any{
		"updated_at": patch.UpdatedAt,
	}
	if patch.GeneratedAt != nil {
		updates["generated_at"] = *patch.GeneratedAt
	}
	if patch.ExpiresAt != nil {
		updates["expires_at"] = *patch.ExpiresAt
	}
	if patch.ProcessingStatus != nil {
		updates["processing_status"] = *patch.ProcessingStatus
	}
	if patch.Confidence != nil {
		updates["confidence"] = *patch.Confidence
	}
	if patch.RiskLevel != nil {
		updates["risk_level"] = *patch.RiskLevel
	}
	if patch.Summary != nil {
		updates["summary"] = *patch.Summary
	}
	if patch.Analysis != nil {
		updates["analysis"] = patch.Analysis
	}
	if patch.GenerationTimeMs != nil {
		updates["generation_time_ms"] = *patch.GenerationTimeMs
	}

	res := db.WithContext(ctx).
		Model(&domain.Insight{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) IncrementAccessCount(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE ai_insights SET access_count = access_count + 1 WHERE id = ?`,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Query(ctx context.Context, db *gorm.DB, q domain.Query) ([]domain.Insight, int64, error) {
	base := applyPredicate(db.WithContext(ctx).Model(&domain.Insight{}), q.Predicate)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if q.Limit <= 0 || int64(q.Offset) >= total {
		return []domain.Insight{}, total, nil
	}

	var items []domain.Insight
	stmt := option.Apply(base.Session(&gorm.Session{}),
		option.WithSortBy(option.SortBy{Column: q.SortColumn, Desc: q.SortDesc}),
		option.WithOffset(q.Offset),
		option.WithLimit(q.Limit),
	)
	if err := stmt.Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Scan hands fn successive batches; fn must not retain the slice.
func (r *repo) Scan(ctx context.Context, db *gorm.DB, p domain.Predicate, batchSize int, fn func(batch []domain.Insight) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	var batch []domain.Insight
	stmt := applyPredicate(db.WithContext(ctx).Model(&domain.Insight{}), p).Select(scanColumns)
	return stmt.FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
		return fn(batch)
	}).Error
}

func (r *repo) ListExpired(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	stmt := db.WithContext(ctx).
		Model(&domain.Insight{}).
		Where("expires_at < ?", before).
		Order("expires_at ASC")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// applyPredicate renders p as SQL. It must stay in step with
// domain.Predicate.Matches.
func applyPredicate(stmt *gorm.DB, p domain.Predicate) *gorm.DB {
	like := "%" + escapeLike(p.Search) + "%"
	switch {
	case p.SearchRisk != "" && p.Search != "":
		stmt = stmt.Where("(risk_level = ? OR LOWER(summary) LIKE ? ESCAPE '!')", p.SearchRisk, like)
	case p.SearchRisk != "":
		stmt = stmt.Where("risk_level = ?", p.SearchRisk)
	case p.Search != "":
		stmt = stmt.Where("LOWER(summary) LIKE ? ESCAPE '!'", like)
	}

	if p.Service != "" {
		stmt = stmt.Where("service = ?", p.Service)
	}
	if p.Risk != "" {
		stmt = stmt.Where("risk_level = ?", p.Risk)
	}
	if p.ConfidenceMin != nil {
		stmt = stmt.Where("confidence >= ?", *p.ConfidenceMin)
	}
	if p.ConfidenceMax != nil {
		stmt = stmt.Where("confidence <= ?", *p.ConfidenceMax)
	}
	if p.GeneratedFrom != nil {
		stmt = stmt.Where("generated_at >= ?", *p.GeneratedFrom)
	}
	if p.GeneratedTo != nil {
		stmt = stmt.Where("generated_at < ?", *p.GeneratedTo)
	}
	if p.UserID != "" {
		stmt = stmt.Where("user_id = ?", p.UserID)
	}

	// Mirrors domain.DeriveStatus: expired wins over failed.
	switch p.Status {
	case domain.StatusExpired:
		stmt = stmt.Where("expires_at < ?", p.Now)
	case domain.StatusError:
		stmt = stmt.Where("expires_at >= ? AND processing_status = ?", p.Now, domain.ProcessingFailed)
	case domain.StatusActive:
		stmt = stmt.Where("expires_at >= ? AND processing_status <> ?", p.Now, domain.ProcessingFailed)
	}
	return stmt
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
