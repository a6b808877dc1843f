package domain

import (
	"testing"
	"time"
)

func TestDeriveStatus(t *testing.T) {
	generated := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	expires := generated.Add(DefaultTTL)

	cases := []struct {
		name       string
		processing ProcessingStatus
		now        time.Time
		want       Status
	}{
		{name: "fresh_completed", processing: ProcessingCompleted, now: generated.Add(time.Hour), want: StatusActive},
		{name: "fresh_pending", processing: ProcessingPending, now: generated, want: StatusActive},
		{name: "failed", processing: ProcessingFailed, now: generated.Add(time.Hour), want: StatusError},
		{name: "at_expiry_is_not_expired", processing: ProcessingCompleted, now: expires, want: StatusActive},
		{name: "expired_wins_over_failed", processing: ProcessingFailed, now: expires.Add(time.Nanosecond), want: StatusExpired},
		// T + 31 days with a 30 day TTL.
		{name: "completed_after_ttl", processing: ProcessingCompleted, now: generated.Add(31 * 24 * time.Hour), want: StatusExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveStatus(tc.processing, expires, tc.now); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestInsightStatusMatchesDeriveStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := Insight{ProcessingStatus: ProcessingFailed, ExpiresAt: now.Add(time.Minute)}
	if rec.Status(now) != DeriveStatus(rec.ProcessingStatus, rec.ExpiresAt, now) {
		t.Fatalf("record status diverged from DeriveStatus")
	}
}
