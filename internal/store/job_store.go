// Package store defines the persistence contracts the engine runs against.
// The queue's concurrency safety reduces entirely to the atomicity of
// ClaimNext; everything else is bookkeeping.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/outreachiq/jobengine/internal/models"
	"github.com/outreachiq/jobengine/internal/state"
)

// ErrJobNotFound is returned by FindByID for an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// EnqueueParams describes one job to insert. MaxAttempts defaults to 3 when
// left zero. ResourceKey and Provider are set only for rate-limited types.
type EnqueueParams struct {
	Type        models.JobType
	Payload     []byte
	WorkspaceID uuid.UUID
	ResourceKey *string
	Provider    *string
	MaxAttempts int
}

const DefaultMaxAttempts = 3

type JobStore interface {
	// Enqueue inserts a pending job and returns its id.
	Enqueue(ctx context.Context, p EnqueueParams) (uuid.UUID, error)

	// ClaimNext atomically selects one claimable job (pending, or scheduled
	// with next_retry_at due), transitions it to processing and stamps
	// started_at and the claiming worker. Due-scheduled jobs win over fresh
	// pending ones; FIFO by created_at within each. Returns (nil, nil) when
	// nothing is claimable. Safe under concurrent callers: no two workers
	// can ever claim the same row.
	ClaimNext(ctx context.Context, eligibleTypes []models.JobType, workerID string) (*models.Job, error)

	// MarkCompleted transitions processing -> completed. Returns
	// joberrors.ErrInvalidTransition if the job is not processing.
	MarkCompleted(ctx context.Context, jobID uuid.UUID) error

	// MarkFailedTerminal transitions processing -> failed, recording the
	// final attempt and its error.
	MarkFailedTerminal(ctx context.Context, jobID uuid.UUID, jobErr string) error

	// Reschedule transitions processing -> scheduled for a future retry.
	// countAttempt is false when the reschedule is flow control (rate
	// limiting) rather than a failure.
	Reschedule(ctx context.Context, jobID uuid.UUID, nextRetryAt time.Time, cause string, countAttempt bool) error

	// ReapStale reclaims jobs stuck in processing longer than olderThan,
	// treating the stall as one transient failure. Returns how many rows
	// were swept.
	ReapStale(ctx context.Context, olderThan time.Duration) (int64, error)

	FindByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	FetchJobs(ctx context.Context, page, pageSize int, statuses []state.JobStatus) (*models.PaginationResult[models.Job], error)
	CountByStatus(ctx context.Context) (map[state.JobStatus]int, error)

	Close() error
}

// UsageStore records billable usage increments after jobs complete.
type UsageStore interface {
	InsertUsageEvent(ctx context.Context, workspaceID uuid.UUID, metric string, quantity int, jobID uuid.UUID) error
}
