package stats

import (
	"context"
	"time"

	"github.com/smallbiznis/insightdesk/internal/insight/domain"
)

type accumulator struct {
	ctx  context.Context
	now  time.Time
	snap domain.StatsSnapshot

	users          map[string]struct{}
	confidenceSum  float64
	processingSum  float64
	processingSeen int64
	terminal       int64
	succeeded      int64
}

func newAccumulator(ctx context.Context, now time.Time) *accumulator {
	return &accumulator{
		ctx:   ctx,
		now:   now,
		users: make(map[string]struct{}),
	}
}

func (a *accumulator) add(batch []domain.Insight) error {
	for i := range batch {
		rec := &batch[i]
		a.snap.TotalInsights++
		a.users[rec.UserID] = struct{}{}
		a.snap.RiskDistribution.Add(rec.RiskLevel)
		a.snap.ServiceUsage.Add(rec.Service)
		a.snap.StatusCounts.Add(rec.Status(a.now))
		a.confidenceSum += rec.Confidence

		if rec.GenerationTimeMs != nil {
			a.processingSum += float64(*rec.GenerationTimeMs)
			a.processingSeen++
		}
		if rec.TotalTokens != nil {
			a.snap.TotalTokens += *rec.TotalTokens
		}
		if rec.ProcessingStatus.IsTerminal() {
			a.terminal++
			if rec.ProcessingStatus != domain.ProcessingFailed {
				a.succeeded++
			}
		}
	}
	return a.ctx.Err()
}

func (a *accumulator) finish() domain.StatsSnapshot {
	snap := a.snap
	snap.TotalUsers = int64(len(a.users))
	if snap.TotalInsights > 0 {
		snap.AverageConfidence = a.confidenceSum / float64(snap.TotalInsights)
	}
	if a.processingSeen > 0 {
		snap.AverageProcessingTimeMs = a.processingSum / float64(a.processingSeen)
	}
	if a.terminal > 0 {
		snap.SuccessRate = float64(a.succeeded) / float64(a.terminal)
	}
	return snap
}

type todayCounter struct {
	ctx         context.Context
	created     int64
	rateLimited int64
}

func (c *todayCounter) add(batch []domain.Insight) error {
	for i := range batch {
		c.created++
		if batch[i].RateLimited {
			c.rateLimited++
		}
	}
	return c.ctx.Err()
}
