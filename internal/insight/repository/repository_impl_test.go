package repository

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/insightdesk/internal/insight/domain"
	"github.com/smallbiznis/insightdesk/internal/insight/insighttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryFiltersSortsAndCounts(t *testing.T) {
	db := insighttest.OpenDB(t)
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	b := insighttest.NewBuilder(t, now)

	var seeded []domain.Insight
	for i := 0; i < 12; i++ {
		risk := domain.RiskLow
		if i < 5 {
			risk = domain.RiskHigh
		}
		rec := b.Insight("user-a", risk, float64(i)/20)
		seeded = append(seeded, rec)
	}
	insighttest.Seed(t, db, seeded...)

	repo := Provide()
	q, err := domain.Translate(domain.FilterSpec{Risk: "high", Page: 1, PageSize: 10}, now, domain.Limits{PageSizeHardCap: 100})
	require.NoError(t, err)

	items, total, err := repo.Query(context.Background(), db, q)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, items, 5)
	for _, item := range items {
		assert.Equal(t, domain.RiskHigh, item.RiskLevel)
	}

	q, err = domain.Translate(domain.FilterSpec{Page: 1, PageSize: 3, SortBy: "confidence", SortOrder: "asc"}, now, domain.Limits{PageSizeHardCap: 100})
	require.NoError(t, err)
	items, total, err = repo.Query(context.Background(), db, q)
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)
	require.Len(t, items, 3)
	assert.LessOrEqual(t, items[0].Confidence, items[1].Confidence)
	assert.LessOrEqual(t, items[1].Confidence, items[2].Confidence)
}

func TestQueryPastLastPageReturnsTotal(t *testing.T) {
	db := insighttest.OpenDB(t)
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	b := insighttest.NewBuilder(t, now)
	insighttest.Seed(t, db, b.Insight("u1", domain.RiskLow, 0.5), b.Insight("u2", domain.RiskLow, 0.6))

	q, err := domain.Translate(domain.FilterSpec{Page: 9, PageSize: 10}, now, domain.Limits{PageSizeHardCap: 100})
	require.NoError(t, err)
	items, total, err := Provide().Query(context.Background(), db, q)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, int64(2), total)
}

func TestStatusPredicateAgreesWithDeriveStatus(t *testing.T) {
	db := insighttest.OpenDB(t)
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	b := insighttest.NewBuilder(t, now)

	active := b.Insight("u1", domain.RiskLow, 0.5)
	failed := b.Insight("u2", domain.RiskLow, 0.5)
	failed.ProcessingStatus = domain.ProcessingFailed
	expired := b.Insight("u3", domain.RiskLow, 0.5)
	expired.GeneratedAt = now.Add(-31 * 24 * time.Hour)
	expired.ExpiresAt = expired.GeneratedAt.Add(domain.DefaultTTL)
	expiredFailed := b.Insight("u4", domain.RiskLow, 0.5)
	expiredFailed.ProcessingStatus = domain.ProcessingFailed
	expiredFailed.ExpiresAt = now.Add(-time.Minute)
	all := []domain.Insight{active, failed, expired, expiredFailed}
	insighttest.Seed(t, db, all...)

	repo := Provide()
	for _, status := range []domain.Status{domain.StatusActive, domain.StatusError, domain.StatusExpired} {
		q, err := domain.Translate(domain.FilterSpec{Status: string(status), Page: 1, PageSize: 10}, now, domain.Limits{PageSizeHardCap: 100})
		require.NoError(t, err)
		items, total, err := repo.Query(context.Background(), db, q)
		require.NoError(t, err)

		var want int64
		for _, rec := range all {
			if rec.Status(now) == status {
				want++
			}
		}
		assert.Equal(t, want, total, string(status))
		for _, item := range items {
			assert.Equal(t, status, item.Status(now), string(status))
		}
	}
}

func TestSearchEscapesWildcards(t *testing.T) {
	db := insighttest.OpenDB(t)
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	b := insighttest.NewBuilder(t, now)

	plain := b.Insight("u1", domain.RiskLow, 0.5)
	plain.Summary = "Savings up 10 percent"
	literal := b.Insight("u2", domain.RiskLow, 0.5)
	literal.Summary = "Savings up 10% this month"
	insighttest.Seed(t, db, plain, literal)

	q, err := domain.Translate(domain.FilterSpec{Search: "10%", Page: 1, PageSize: 10}, now, domain.Limits{PageSizeHardCap: 100})
	require.NoError(t, err)
	items, total, err := Provide().Query(context.Background(), db, q)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, literal.ID, items[0].ID)
}

func TestSearchRiskSynonymOr(t *testing.T) {
	db := insighttest.OpenDB(t)
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	b := insighttest.NewBuilder(t, now)

	high := b.Insight("u1", domain.RiskHigh, 0.5)
	high.Summary = "Overdraft pattern detected"
	mention := b.Insight("u2", domain.RiskLow, 0.5)
	mention.Summary = "No high spending this week"
	other := b.Insight("u3", domain.RiskLow, 0.5)
	other.Summary = "Stable budget"
	insighttest.Seed(t, db, high, mention, other)

	limits := domain.Limits{PageSizeHardCap: 100, RiskSynonymSearch: true}
	q, err := domain.Translate(domain.FilterSpec{Search: "high", Page: 1, PageSize: 10}, now, limits)
	require.NoError(t, err)
	_, total, err := Provide().Query(context.Background(), db, q)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestMutations(t *testing.T) {
	db := insighttest.OpenDB(t)
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	b := insighttest.NewBuilder(t, now)
	rec := b.Insight("u1", domain.RiskMedium, 0.5)

	repo := Provide()
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, db, &rec))

	ok, err := repo.IncrementAccessCount(ctx, db, rec.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	regenerated := now.Add(time.Hour)
	expires := regenerated.Add(domain.DefaultTTL)
	completed := domain.ProcessingCompleted
	ok, err = repo.UpdateByID(ctx, db, rec.ID, domain.Patch{
		GeneratedAt:      &regenerated,
		ExpiresAt:        &expires,
		ProcessingStatus: &completed,
		UpdatedAt:        regenerated,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.FindByID(ctx, db, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.AccessCount)
	assert.True(t, got.ExpiresAt.Equal(expires))

	ok, err = repo.DeleteByID(ctx, db, rec.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.DeleteByID(ctx, db, rec.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = repo.FindByID(ctx, db, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	ok, err = repo.UpdateByID(ctx, db, rec.ID, domain.Patch{UpdatedAt: now})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScanBatchesEveryRow(t *testing.T) {
	db := insighttest.OpenDB(t)
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	b := insighttest.NewBuilder(t, now)

	var seeded []domain.Insight
	for i := 0; i < 7; i++ {
		seeded = append(seeded, b.Insight("u", domain.RiskLow, 0.1))
	}
	insighttest.Seed(t, db, seeded...)

	var rows, batches int
	err := Provide().Scan(context.Background(), db, domain.Predicate{}, 3, func(batch []domain.Insight) error {
		batches++
		rows += len(batch)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, rows)
	assert.Equal(t, 3, batches)
}

func TestListExpired(t *testing.T) {
	db := insighttest.OpenDB(t)
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	b := insighttest.NewBuilder(t, now)

	old := b.Insight("u1", domain.RiskLow, 0.1)
	old.ExpiresAt = now.Add(-48 * time.Hour)
	fresh := b.Insight("u2", domain.RiskLow, 0.1)
	insighttest.Seed(t, db, old, fresh)

	ids, err := Provide().ListExpired(context.Background(), db, now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, old.ID, ids[0])
}
