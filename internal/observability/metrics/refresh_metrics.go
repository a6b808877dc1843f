package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/insightdesk/pkg/db"
)

const (
	RefreshReasonTimeout     = "timeout"
	RefreshReasonUnavailable = "store_unavailable"
	RefreshReasonUnknown     = "unknown"
)

const (
	RefreshTriggerMutation = "mutation"
	RefreshTriggerChange   = "change_event"
	RefreshTriggerTicker   = "ticker"
	RefreshTriggerManual   = "manual"
)

// RefreshMetrics captures the health of the stats refresh controller.
type RefreshMetrics struct {
	requests   *prometheus.CounterVec
	coalesced  prometheus.Counter
	runs       prometheus.Counter
	failures   *prometheus.CounterVec
	duration   prometheus.Histogram
	generation prometheus.Gauge
	stale      prometheus.Gauge
	purged     prometheus.Counter
}

var (
	refreshMetricsOnce sync.Once
	refreshMetrics     *RefreshMetrics
)

// Refresh returns the singleton refresh metrics registry.
func Refresh() *RefreshMetrics {
	return RefreshWithConfig(Config{})
}

// RefreshWithConfig returns the singleton refresh metrics registry using
// config labels.
func RefreshWithConfig(cfg Config) *RefreshMetrics {
	refreshMetricsOnce.Do(func() {
		refreshMetrics = NewRefreshMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return refreshMetrics
}

// NewRefreshMetrics registers a fresh set of collectors on registerer.
func NewRefreshMetrics(registerer prometheus.Registerer, cfg Config) *RefreshMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "insightdesk"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &RefreshMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "insightdesk_stats_refresh_requests_total",
			Help:        "Stats refresh requests by trigger.",
			ConstLabels: constLabels,
		}, []string{"trigger"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "insightdesk_stats_refresh_coalesced_total",
			Help:        "Refresh requests absorbed by an already queued refresh.",
			ConstLabels: constLabels,
		}),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "insightdesk_stats_refresh_runs_total",
			Help:        "Full aggregation scans executed.",
			ConstLabels: constLabels,
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "insightdesk_stats_refresh_failures_total",
			Help:        "Failed aggregation scans by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "insightdesk_stats_refresh_duration_seconds",
			Help:        "Aggregation scan latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "insightdesk_stats_generation",
			Help:        "Generation of the currently published stats snapshot.",
			ConstLabels: constLabels,
		}),
		stale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "insightdesk_stats_stale",
			Help:        "1 when the published snapshot predates a failed refresh.",
			ConstLabels: constLabels,
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "insightdesk_retention_purged_total",
			Help:        "Expired insights removed by the retention worker.",
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.requests,
		m.coalesced,
		m.runs,
		m.failures,
		m.duration,
		m.generation,
		m.stale,
		m.purged,
	)
	return m
}

func (m *RefreshMetrics) IncRequest(trigger string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(trigger).Inc()
}

func (m *RefreshMetrics) IncCoalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

// ObserveRun records one finished scan. err == nil publishes generation.
func (m *RefreshMetrics) ObserveRun(elapsed time.Duration, generation uint64, err error) {
	if m == nil {
		return
	}
	m.runs.Inc()
	m.duration.Observe(elapsed.Seconds())
	if err != nil {
		m.failures.WithLabelValues(ClassifyRefreshError(err)).Inc()
		m.stale.Set(1)
		return
	}
	m.generation.Set(float64(generation))
	m.stale.Set(0)
}

func (m *RefreshMetrics) AddPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.purged.Add(float64(n))
}

// ClassifyRefreshError maps scan failures to a bounded reason label.
func ClassifyRefreshError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded), db.IsTimeoutErr(err):
		return RefreshReasonTimeout
	case db.IsUnavailableErr(err):
		return RefreshReasonUnavailable
	default:
		return RefreshReasonUnknown
	}
}
