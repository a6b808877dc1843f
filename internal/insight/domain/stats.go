package domain

import "time"

type RiskDistribution struct {
	High    int64 `json:"high"`
	Medium  int64 `json:"medium"`
	Low     int64 `json:"low"`
	Unknown int64 `json:"unknown"`
}

// Add counts one record; values outside the closed set land in Unknown.
func (d *RiskDistribution) Add(level RiskLevel) {
	switch level {
	case RiskHigh:
		d.High++
	case RiskMedium:
		d.Medium++
	case RiskLow:
		d.Low++
	default:
		d.Unknown++
	}
}

func (d RiskDistribution) Sum() int64 { return d.High + d.Medium + d.Low + d.Unknown }

type ServiceUsage struct {
	OpenRouter int64 `json:"openrouter"`
	Prophet    int64 `json:"prophet"`
	Chatbot    int64 `json:"chatbot"`
	Fallback   int64 `json:"fallback"`
}

// Add counts one record; values outside the closed set land in Fallback.
func (u *ServiceUsage) Add(name ServiceName) {
	switch name {
	case ServiceOpenRouter:
		u.OpenRouter++
	case ServiceProphet:
		u.Prophet++
	case ServiceChatbot:
		u.Chatbot++
	default:
		u.Fallback++
	}
}

func (u ServiceUsage) Sum() int64 { return u.OpenRouter + u.Prophet + u.Chatbot + u.Fallback }

type StatusCounts struct {
	Active  int64 `json:"active"`
	Expired int64 `json:"expired"`
	Error   int64 `json:"error"`
}

func (c *StatusCounts) Add(s Status) {
	switch s {
	case StatusExpired:
		c.Expired++
	case StatusError:
		c.Error++
	default:
		c.Active++
	}
}

func (c StatusCounts) Sum() int64 { return c.Active + c.Expired + c.Error }

// StatsSnapshot is one wholesale aggregation of the collection. It is never
// mutated after publication.
type StatsSnapshot struct {
	TotalInsights           int64            `json:"total_insights"`
	TotalUsers              int64            `json:"total_users"`
	RiskDistribution        RiskDistribution `json:"risk_distribution"`
	ServiceUsage            ServiceUsage     `json:"service_usage"`
	StatusCounts            StatusCounts     `json:"status_counts"`
	AverageConfidence       float64          `json:"average_confidence"`
	AverageProcessingTimeMs float64          `json:"average_processing_time_ms"`
	TotalTokens             int64            `json:"total_tokens"`
	SuccessRate             float64          `json:"success_rate"`
	TodayInsights           int64            `json:"today_insights"`
	TodayRateLimited        int64            `json:"today_rate_limited"`
	ComputedAt              time.Time        `json:"computed_at"`
	Generation              uint64           `json:"generation"`
}

// StatsView is what callers receive: the last good snapshot and whether a
// newer one failed to compute.
type StatsView struct {
	Snapshot    StatsSnapshot `json:"snapshot"`
	Stale       bool          `json:"stale"`
	StaleReason string        `json:"stale_reason,omitempty"`
	Refreshing  bool          `json:"refreshing"`
}
