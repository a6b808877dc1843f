package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/smallbiznis/insightdesk/pkg/db/pagination"
)

type Service interface {
	GetStats(ctx context.Context) (StatsView, error)
	RefreshStats(ctx context.Context) error
	QueryInsights(ctx context.Context, spec FilterSpec) (ResultPage, error)
	GetDetail(ctx context.Context, id string) (*InsightResponse, error)
	CreateInsight(ctx context.Context, req CreateRequest) (*CreateResponse, error)
	DeleteInsight(ctx context.Context, id string) error
	RegenerateInsight(ctx context.Context, req RegenerateRequest) (*InsightResponse, error)
	PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

type CreateRequest struct {
	UserID           string         `json:"user_id" validate:"required,max=128"`
	Service          string         `json:"service" validate:"max=64"`
	Confidence       float64        `json:"confidence" validate:"gte=0,lte=1"`
	Summary          string         `json:"summary" validate:"max=20000"`
	Analysis         map[string]any `json:"analysis"`
	ProcessingStatus string         `json:"processing_status" validate:"omitempty,oneof=pending processing completed failed"`
	GenerationTimeMs *int64         `json:"generation_time_ms" validate:"omitempty,gte=0"`
	PromptTokens     *int64         `json:"prompt_tokens" validate:"omitempty,gte=0"`
	CompletionTokens *int64         `json:"completion_tokens" validate:"omitempty,gte=0"`
	TotalTokens      *int64         `json:"total_tokens" validate:"omitempty,gte=0"`
}

type CreateResponse struct {
	ID          string    `json:"id"`
	RateLimited bool      `json:"rate_limited"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// RegenerateRequest refreshes a record's lifetime. Content fields are
// optional amendments from the generator.
type RegenerateRequest struct {
	ID               string         `json:"-"`
	Confidence       *float64       `json:"confidence" validate:"omitempty,gte=0,lte=1"`
	Summary          *string        `json:"summary" validate:"omitempty,max=20000"`
	Analysis         map[string]any `json:"analysis"`
	GenerationTimeMs *int64         `json:"generation_time_ms" validate:"omitempty,gte=0"`
}

type UserSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        string `json:"role,omitempty"`
	Synthesized bool   `json:"synthesized"`
}

type TokenUsage struct {
	Prompt     *int64 `json:"prompt,omitempty"`
	Completion *int64 `json:"completion,omitempty"`
	Total      *int64 `json:"total,omitempty"`
}

// InsightResponse is a record decorated with its owner and derived status.
type InsightResponse struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	User             UserSummary      `json:"user"`
	Service          ServiceName      `json:"service"`
	Confidence       float64          `json:"confidence"`
	RiskLevel        RiskLevel        `json:"risk_level"`
	Summary          string           `json:"summary"`
	Analysis         json.RawMessage  `json:"analysis,omitempty"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	Status           Status           `json:"status"`
	GeneratedAt      time.Time        `json:"generated_at"`
	ExpiresAt        time.Time        `json:"expires_at"`
	GenerationTimeMs *int64           `json:"generation_time_ms,omitempty"`
	TokenUsage       TokenUsage       `json:"token_usage"`
	AccessCount      int64            `json:"access_count"`
	RateLimited      bool             `json:"rate_limited"`
}

// ResultPage is one listing page. Generation is the stats generation that
// was current when the page was served; a page may predate an in-flight
// refresh, flagged by Refreshing.
type ResultPage struct {
	Items      []InsightResponse   `json:"items"`
	PageInfo   pagination.PageInfo `json:"page_info"`
	Generation uint64              `json:"generation"`
	Refreshing bool                `json:"refreshing"`
	ServedAt   time.Time           `json:"served_at"`
}

type ChangeKind string

const (
	ChangeCreated     ChangeKind = "created"
	ChangeDeleted     ChangeKind = "deleted"
	ChangeRegenerated ChangeKind = "regenerated"
	ChangePurged      ChangeKind = "purged"
)

// ChangeEvent signals that the ai_insights collection changed. Consumers
// must treat it as a hint only; delivery is at-least-once.
type ChangeEvent struct {
	ID        string     `json:"id"`
	Kind      ChangeKind `json:"kind"`
	InsightID string     `json:"insight_id,omitempty"`
	Origin    string     `json:"origin"`
	At        time.Time  `json:"at"`
}
