package domain

import (
	"encoding/json"
	"time"
)

const fallbackNameLength = 8

// FallbackUser synthesizes an owner label for ids missing from the user
// directory.
func FallbackUser(userID string) UserSummary {
	short := []rune(userID)
	if len(short) > fallbackNameLength {
		short = short[:fallbackNameLength]
	}
	return UserSummary{
		ID:          userID,
		DisplayName: "User " + string(short),
		Synthesized: true,
	}
}

// Response decorates the record with its owner and its status at now.
func (i Insight) Response(user UserSummary, now time.Time) InsightResponse {
	var analysis json.RawMessage
	if len(i.Analysis) > 0 {
		analysis = json.RawMessage(i.Analysis)
	}
	return InsightResponse{
		ID:               i.ID.String(),
		UserID:           i.UserID,
		User:             user,
		Service:          i.Service,
		Confidence:       i.Confidence,
		RiskLevel:        i.RiskLevel,
		Summary:          i.Summary,
		Analysis:         analysis,
		ProcessingStatus: i.ProcessingStatus,
		Status:           i.Status(now),
		GeneratedAt:      i.GeneratedAt.UTC(),
		ExpiresAt:        i.ExpiresAt.UTC(),
		GenerationTimeMs: i.GenerationTimeMs,
		TokenUsage: TokenUsage{
			Prompt:     i.PromptTokens,
			Completion: i.CompletionTokens,
			Total:      i.TotalTokens,
		},
		AccessCount: i.AccessCount,
		RateLimited: i.RateLimited,
	}
}
