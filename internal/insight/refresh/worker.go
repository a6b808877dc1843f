package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/insightdesk/internal/clock"
	"github.com/smallbiznis/insightdesk/internal/config"
	"github.com/smallbiznis/insightdesk/internal/observability/metrics"
	"github.com/smallbiznis/insightdesk/internal/ratelimit"
	"go.uber.org/zap"
)

// Purger removes records whose expiry is older than before.
type Purger interface {
	PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

const retentionLockKey = "insightdesk:retention:lock"

// Lock serializes retention purges across nodes.
type Lock interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Worker periodically requests a stats refresh and, when a retention period
// is configured, purges long-expired insights.
type Worker struct {
	controller *Controller
	purger     Purger
	lock       Lock
	tuning     *config.InsightTuningHolder
	clock      clock.Clock
	runTimeout time.Duration
	log        *zap.Logger
	metrics    *metrics.RefreshMetrics
}

func NewWorker(
	controller *Controller,
	purger Purger,
	lock Lock,
	tuning *config.InsightTuningHolder,
	clk clock.Clock,
	runTimeout time.Duration,
	log *zap.Logger,
	m *metrics.RefreshMetrics,
) *Worker {
	if clk == nil {
		clk = clock.New()
	}
	if runTimeout <= 0 {
		runTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		controller: controller,
		purger:     purger,
		lock:       lock,
		tuning:     tuning,
		clock:      clk,
		runTimeout: runTimeout,
		log:        log.Named("insight.refresh.worker"),
		metrics:    m,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("insight maintenance run failed", zap.Error(err))
		}

		timer := time.NewTimer(w.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunOnce purges expired records when retention is enabled, then requests
// a refresh. Purge failures are returned after the refresh is requested.
func (w *Worker) RunOnce(parentCtx context.Context) error {
	tuning := w.tuning.Get()

	var purgeErr error
	if tuning.RetentionPeriod > 0 && w.purger != nil {
		ctx, cancel := context.WithTimeout(parentCtx, w.runTimeout)
		purgeErr = w.purge(ctx, tuning.RetentionPeriod, tuning.RetentionBatch)
		cancel()
	}

	w.controller.Request(metrics.RefreshTriggerTicker)
	return purgeErr
}

func (w *Worker) purge(ctx context.Context, retention time.Duration, batch int) error {
	run := func(ctx context.Context) error {
		before := w.clock.Now().Add(-retention)
		n, err := w.purger.PurgeExpired(ctx, before, batch)
		if err != nil {
			return err
		}
		if n > 0 {
			w.metrics.AddPurged(n)
			w.log.Info("purged expired insights",
				zap.Int("count", n),
				zap.Time("expired_before", before),
			)
		}
		return nil
	}
	if w.lock == nil {
		return run(ctx)
	}
	err := w.lock.WithLock(ctx, retentionLockKey, w.runTimeout, run)
	if errors.Is(err, ratelimit.ErrLockHeld) {
		w.log.Debug("retention purge running on another node")
		return nil
	}
	return err
}

func (w *Worker) interval() time.Duration {
	interval := w.tuning.Get().RefreshInterval
	if interval <= 0 {
		return config.DefaultInsightTuning().RefreshInterval
	}
	return interval
}
