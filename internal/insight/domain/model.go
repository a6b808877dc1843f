package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// DefaultTTL is how long a generated insight stays active.
const DefaultTTL = 30 * 24 * time.Hour

type ServiceName string

const (
	ServiceOpenRouter ServiceName = "openrouter"
	ServiceProphet    ServiceName = "prophet"
	ServiceChatbot    ServiceName = "chatbot"
	ServiceFallback   ServiceName = "fallback"
)

// ServiceNames lists the closed set in display order.
var ServiceNames = []ServiceName{ServiceOpenRouter, ServiceProphet, ServiceChatbot, ServiceFallback}

// NormalizeServiceName maps unknown or empty values onto the fallback bucket.
func NormalizeServiceName(raw string) ServiceName {
	name, ok := ParseServiceName(raw)
	if !ok {
		return ServiceFallback
	}
	return name
}

func ParseServiceName(raw string) (ServiceName, bool) {
	switch ServiceName(strings.ToLower(strings.TrimSpace(raw))) {
	case ServiceOpenRouter:
		return ServiceOpenRouter, true
	case ServiceProphet:
		return ServiceProphet, true
	case ServiceChatbot:
		return ServiceChatbot, true
	case ServiceFallback:
		return ServiceFallback, true
	}
	return "", false
}

type RiskLevel string

const (
	RiskHigh    RiskLevel = "high"
	RiskMedium  RiskLevel = "medium"
	RiskLow     RiskLevel = "low"
	RiskUnknown RiskLevel = "unknown"
)

var RiskLevels = []RiskLevel{RiskHigh, RiskMedium, RiskLow, RiskUnknown}

func ParseRiskLevel(raw string) (RiskLevel, bool) {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(raw))) {
	case RiskHigh:
		return RiskHigh, true
	case RiskMedium:
		return RiskMedium, true
	case RiskLow:
		return RiskLow, true
	case RiskUnknown:
		return RiskUnknown, true
	}
	return "", false
}

// NormalizeRiskLevel buckets anything outside the closed set as unknown.
func NormalizeRiskLevel(raw string) RiskLevel {
	level, ok := ParseRiskLevel(raw)
	if !ok {
		return RiskUnknown
	}
	return level
}

// RiskFromAnalysis reads analysis.risk_assessment.level, then
// analysis.risk_level.
func RiskFromAnalysis(analysis map[string]any) RiskLevel {
	if analysis == nil {
		return RiskUnknown
	}
	if assessment, ok := analysis["risk_assessment"].(map[string]any); ok {
		if level, ok := assessment["level"].(string); ok && strings.TrimSpace(level) != "" {
			return NormalizeRiskLevel(level)
		}
	}
	if level, ok := analysis["risk_level"].(string); ok {
		return NormalizeRiskLevel(level)
	}
	return RiskUnknown
}

// RiskFromAnalysisJSON is RiskFromAnalysis over a raw payload. Malformed
// payloads carry no risk information.
func RiskFromAnalysisJSON(raw []byte) RiskLevel {
	if len(raw) == 0 {
		return RiskUnknown
	}
	var analysis map[string]any
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return RiskUnknown
	}
	return RiskFromAnalysis(analysis)
}

type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// IsTerminal reports whether the record finished generating.
func (s ProcessingStatus) IsTerminal() bool {
	return s == ProcessingCompleted || s == ProcessingFailed
}

func ParseProcessingStatus(raw string) (ProcessingStatus, bool) {
	switch ProcessingStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case ProcessingPending:
		return ProcessingPending, true
	case ProcessingProcessing:
		return ProcessingProcessing, true
	case ProcessingCompleted:
		return ProcessingCompleted, true
	case ProcessingFailed:
		return ProcessingFailed, true
	}
	return "", false
}

type Insight struct {
	ID               snowflake.ID     `gorm:"primaryKey"`
	UserID           string           `gorm:"column:user_id;type:text;not null;index"`
	Service          ServiceName      `gorm:"column:service;type:text;not null"`
	Confidence       float64          `gorm:"not null"`
	RiskLevel        RiskLevel        `gorm:"column:risk_level;type:text;not null"`
	Summary          string           `gorm:"type:text;not null"`
	Analysis         datatypes.JSON   `gorm:"type:jsonb"`
	ProcessingStatus ProcessingStatus `gorm:"column:processing_status;type:text;not null"`

	GeneratedAt time.Time `gorm:"column:generated_at;not null;index"`
	ExpiresAt   time.Time `gorm:"column:expires_at;not null;index"`

	GenerationTimeMs *int64 `gorm:"column:generation_time_ms"`
	PromptTokens     *int64 `gorm:"column:prompt_tokens"`
	CompletionTokens *int64 `gorm:"column:completion_tokens"`
	TotalTokens      *int64 `gorm:"column:total_tokens"`

	AccessCount int64 `gorm:"column:access_count;not null;default:0"`
	RateLimited bool  `gorm:"column:rate_limited;not null;default:false"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Insight) TableName() string { return "ai_insights" }

// Patch is a partial update applied by regeneration. Nil fields are left
// untouched.
type Patch struct {
	GeneratedAt      *time.Time
	ExpiresAt        *time.Time
	ProcessingStatus *ProcessingStatus
	Confidence       *float64
	RiskLevel        *RiskLevel
	Summary          *string
	Analysis         datatypes.JSON
	GenerationTimeMs *int64
	UpdatedAt        time.Time
}

// ParseID parses a public insight id.
func ParseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, NewFilterError("id", "invalid id")
	}
	return id, nil
}
