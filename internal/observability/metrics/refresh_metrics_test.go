package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestClassifyRefreshError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: fmt.Errorf("scan all: %w", context.DeadlineExceeded), want: RefreshReasonTimeout},
		{name: "statement_timeout", err: &pgconn.PgError{Code: "57014"}, want: RefreshReasonTimeout},
		{name: "connection", err: &pgconn.PgError{Code: "08006"}, want: RefreshReasonUnavailable},
		{name: "unknown", err: errors.New("boom"), want: RefreshReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyRefreshError(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestObserveRun(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewRefreshMetrics(registry, Config{ServiceName: "insightdesk", Environment: "test"})

	m.ObserveRun(time.Millisecond, 3, nil)
	if got := testutil.ToFloat64(m.generation); got != 3 {
		t.Fatalf("expected generation 3, got %v", got)
	}

	m.ObserveRun(time.Millisecond, 3, context.DeadlineExceeded)
	if got := testutil.ToFloat64(m.stale); got != 1 {
		t.Fatalf("expected stale gauge 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues(RefreshReasonTimeout)); got != 1 {
		t.Fatalf("expected 1 timeout failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.runs); got != 2 {
		t.Fatalf("expected 2 runs, got %v", got)
	}
}
