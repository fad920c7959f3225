package domain

import "time"

// FallbackReason explains why degraded output was offered.
type FallbackReason string

const (
	ReasonNoSources       FallbackReason = "no_sources"
	ReasonModelError      FallbackReason = "model_error"
	ReasonCharacterLimit  FallbackReason = "character_limit"
	ReasonValidationError FallbackReason = "validation_error"
)

// FallbackWarning is an operator-facing record of a proposed fallback.
// The ID stays the same when the record is re-persisted after approval.
type FallbackWarning struct {
	ID                string         `json:"id"`
	Agent             string         `json:"agent_name"`
	Reason            FallbackReason `json:"reason"`
	ErrorMessage      string         `json:"error_message"`
	Step              string         `json:"step"`
	OriginalObjective string         `json:"original_objective"`
	Timestamp         time.Time      `json:"timestamp"`
	Approved          bool           `json:"user_approved"`
}
