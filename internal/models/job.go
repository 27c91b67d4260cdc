package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/outreachiq/jobengine/internal/state"
)

// JobType is the closed set of background work the engine knows how to run.
// Adding a type means adding a constant here and registering a handler for
// it at startup; the dispatcher treats anything else as a configuration
// error.
type JobType string

const (
	JobTypeSendEmail       JobType = "send_email"
	JobTypeVerifyEmail     JobType = "verify_email"
	JobTypeWarmupEmail     JobType = "warmup_email"
	JobTypeProcessCampaign JobType = "process_campaign"
	JobTypeUpdateAnalytics JobType = "update_analytics"
)

var AllJobTypes = []JobType{
	JobTypeSendEmail,
	JobTypeVerifyEmail,
	JobTypeWarmupEmail,
	JobTypeProcessCampaign,
	JobTypeUpdateAnalytics,
}

func (t JobType) String() string {
	return string(t)
}

func (t JobType) Valid() bool {
	for _, known := range AllJobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// RateLimited reports whether jobs of this type consume a per-inbox sending
// allowance. Campaign and analytics jobs carry no resource key and are never
// gated.
func (t JobType) RateLimited() bool {
	return t == JobTypeSendEmail || t == JobTypeWarmupEmail
}

// Job is one persisted unit of background work.
type Job struct {
	ID           uuid.UUID       `json:"id"`
	Type         JobType         `json:"job_type"`
	Payload      json.RawMessage `json:"payload"`
	Status       state.JobStatus `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts"`
	NextRetryAt  *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	LastError    *string         `json:"last_error,omitempty"`
	WorkspaceID  uuid.UUID       `json:"workspace_id"`
	ResourceKey  *string         `json:"resource_key,omitempty"`
	Provider     *string         `json:"provider,omitempty"`
	LockedBy     *string         `json:"locked_by,omitempty"`
}

// JobResult is what a single execution attempt produced, handed to the
// outcome recorder after the store transition has been applied.
type JobResult struct {
	JobID    uuid.UUID
	Status   state.JobStatus
	Err      error
	Attempts int
	Duration time.Duration
}
