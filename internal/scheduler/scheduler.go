// Package scheduler owns the control loop: claim eligible jobs, gate them on
// the rate limiter, hand them to the dispatcher, and persist the outcome per
// the retry policy. Correctness under concurrency rests entirely on the
// store's atomic claim and the limiter's atomic reservation; workers share
// no other state.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/outreachiq/jobengine/internal/dispatch"
	"github.com/outreachiq/jobengine/internal/models"
	"github.com/outreachiq/jobengine/internal/ratelimit"
	"github.com/outreachiq/jobengine/internal/retry"
	"github.com/outreachiq/jobengine/internal/state"
	"github.com/outreachiq/jobengine/internal/store"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, job *models.Job) dispatch.Outcome
}

type OutcomeRecorder interface {
	Record(ctx context.Context, job *models.Job, result models.JobResult)
}

// ProviderLimits resolves the daily send cap for an inbox's provider. The
// limiter itself never hardcodes limits.
type ProviderLimits struct {
	PerProvider map[string]int
	Default     int
}

func (p ProviderLimits) LimitFor(provider string) int {
	if limit, ok := p.PerProvider[provider]; ok {
		return limit
	}
	return p.Default
}

type Options struct {
	Instance     string
	WorkerCount  int
	PollInterval time.Duration
}

type Scheduler struct {
	store      store.JobStore
	limiter    ratelimit.Limiter
	limits     ProviderLimits
	dispatcher Dispatcher
	policy     retry.Policy
	recorder   OutcomeRecorder
	eligible   []models.JobType
	log        *zap.Logger

	instance     string
	workerID     string
	workerCount  int
	pollInterval time.Duration
}

func New(
	jobStore store.JobStore,
	limiter ratelimit.Limiter,
	limits ProviderLimits,
	dispatcher Dispatcher,
	policy retry.Policy,
	recorder OutcomeRecorder,
	eligible []models.JobType,
	log *zap.Logger,
	opts Options,
) *Scheduler {
	if opts.WorkerCount < 1 {
		opts.WorkerCount = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &Scheduler{
		store:        jobStore,
		limiter:      limiter,
		limits:       limits,
		dispatcher:   dispatcher,
		policy:       policy,
		recorder:     recorder,
		eligible:     eligible,
		log:          log,
		instance:     opts.Instance,
		workerID:     fmt.Sprintf("%s/%s", opts.Instance, uuid.NewString()[:8]),
		workerCount:  opts.WorkerCount,
		pollInterval: opts.PollInterval,
	}
}

// Run claims and processes jobs until ctx is cancelled, then drains in-flight
// work. The poll sleep when no job is claimable is the only intentional idle
// wait.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started",
		zap.String("worker_id", s.workerID),
		zap.Int("workers", s.workerCount),
		zap.Duration("poll_interval", s.pollInterval))

	sem := semaphore.NewWeighted(int64(s.workerCount))
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.log.Info("scheduler stopped", zap.String("worker_id", s.workerID))
			return ctx.Err()
		default:
		}

		job, err := s.store.ClaimNext(ctx, s.eligible, s.workerID)
		if err != nil {
			s.log.Error("claim failed", zap.Error(err))
			s.sleep(ctx)
			continue
		}
		if job == nil {
			s.sleep(ctx)
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			// Shutdown raced the claim; the reaper reclaims the row.
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func(job *models.Job) {
			defer sem.Release(1)
			defer wg.Done()
			s.process(ctx, job)
		}(job)
	}
}

func (s *Scheduler) process(ctx context.Context, job *models.Job) {
	// Outcome transitions must land even when shutdown cancels ctx
	// mid-flight; otherwise a finished job would sit in processing until
	// the reaper reruns it.
	persistCtx := context.WithoutCancel(ctx)
	attempt := job.AttemptCount + 1

	if job.ResourceKey != nil && job.Type.RateLimited() {
		if deferred := s.reserve(ctx, persistCtx, job); deferred {
			return
		}
	}

	outcome := s.dispatcher.Dispatch(ctx, job)
	result := models.JobResult{
		JobID:    job.ID,
		Attempts: attempt,
		Duration: outcome.Duration,
	}

	if outcome.Err == nil {
		if err := s.store.MarkCompleted(persistCtx, job.ID); err != nil {
			s.log.Error("mark completed failed",
				zap.String("job_id", job.ID.String()),
				zap.Error(err))
			return
		}
		result.Status = state.StatusCompleted
		s.recorder.Record(persistCtx, job, result)
		return
	}

	result.Err = outcome.Err
	decision := s.policy.Decide(attempt, job.MaxAttempts, outcome.Err.Kind)

	if decision.Terminal {
		if err := s.store.MarkFailedTerminal(persistCtx, job.ID, outcome.Err.Error()); err != nil {
			// Already terminal or reclaimed under us; do not fire the
			// terminal trigger twice.
			s.log.Error("mark failed failed",
				zap.String("job_id", job.ID.String()),
				zap.Error(err))
			return
		}
		result.Status = state.StatusFailed
		s.recorder.Record(persistCtx, job, result)
		return
	}

	nextRetry := time.Now().Add(decision.RetryAfter)
	if err := s.store.Reschedule(persistCtx, job.ID, nextRetry, outcome.Err.Error(), true); err != nil {
		s.log.Error("reschedule failed",
			zap.String("job_id", job.ID.String()),
			zap.Error(err))
		return
	}
	result.Status = state.StatusScheduled
	s.recorder.Record(persistCtx, job, result)
}

// reserve gates the job on its inbox's daily window. A full window is flow
// control, not a failure: the job goes back to scheduled for the window
// rollover without consuming an attempt. Returns true when the job was
// deferred.
func (s *Scheduler) reserve(ctx, persistCtx context.Context, job *models.Job) bool {
	provider := ""
	if job.Provider != nil {
		provider = *job.Provider
	}
	limit := s.limits.LimitFor(provider)

	decision, err := s.limiter.CheckAndReserve(ctx, *job.ResourceKey, limit)
	if err != nil {
		// Infrastructure failure, not a job failure: release the claim
		// and retry after a short delay without counting an attempt.
		s.log.Error("rate limiter unavailable",
			zap.String("job_id", job.ID.String()),
			zap.String("resource_key", *job.ResourceKey),
			zap.Error(err))
		s.deferJob(persistCtx, job, s.pollInterval, "rate limiter unavailable")
		return true
	}
	if decision.Allowed {
		return false
	}

	s.log.Info("job deferred by rate limit",
		zap.String("job_id", job.ID.String()),
		zap.String("resource_key", *job.ResourceKey),
		zap.Int("limit", limit),
		zap.Duration("retry_after", decision.RetryAfter))
	s.deferJob(persistCtx, job, decision.RetryAfter, "rate limited")
	return true
}

func (s *Scheduler) deferJob(ctx context.Context, job *models.Job, retryAfter time.Duration, cause string) {
	if err := s.store.Reschedule(ctx, job.ID, time.Now().Add(retryAfter), cause, false); err != nil {
		s.log.Error("defer reschedule failed",
			zap.String("job_id", job.ID.String()),
			zap.Error(err))
		return
	}
	s.recorder.Record(ctx, job, models.JobResult{
		JobID:    job.ID,
		Status:   state.StatusScheduled,
		Attempts: job.AttemptCount,
	})
}

func (s *Scheduler) sleep(ctx context.Context) {
	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
