package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outreachiq/jobengine/internal/dispatch"
	"github.com/outreachiq/jobengine/internal/joberrors"
	"github.com/outreachiq/jobengine/internal/models"
	"github.com/outreachiq/jobengine/internal/ratelimit"
	"github.com/outreachiq/jobengine/internal/state"
	"github.com/outreachiq/jobengine/internal/store"
)

// memJobStore mirrors the postgres store's transition contract in memory:
// claims are exclusive under the mutex and conditional updates return
// ErrInvalidTransition on a status mismatch.
type memJobStore struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*models.Job
	order []uuid.UUID
	now   func() time.Time
}

func newMemJobStore() *memJobStore {
	return &memJobStore{
		jobs: make(map[uuid.UUID]*models.Job),
		now:  time.Now,
	}
}

func (m *memJobStore) Enqueue(ctx context.Context, p store.EnqueueParams) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = store.DefaultMaxAttempts
	}
	job := &models.Job{
		ID:          uuid.New(),
		Type:        p.Type,
		Payload:     p.Payload,
		Status:      state.StatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   m.now(),
		WorkspaceID: p.WorkspaceID,
		ResourceKey: p.ResourceKey,
		Provider:    p.Provider,
	}
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	return job.ID, nil
}

func (m *memJobStore) ClaimNext(ctx context.Context, eligibleTypes []models.JobType, workerID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	eligible := make(map[models.JobType]bool)
	for _, t := range eligibleTypes {
		eligible[t] = true
	}
	now := m.now()

	claim := func(wantScheduled bool) *models.Job {
		for _, id := range m.order {
			job := m.jobs[id]
			if !eligible[job.Type] {
				continue
			}
			due := job.Status == state.StatusScheduled && job.NextRetryAt != nil && !job.NextRetryAt.After(now)
			if wantScheduled && !due {
				continue
			}
			if !wantScheduled && job.Status != state.StatusPending {
				continue
			}
			job.Status = state.StatusProcessing
			started := now
			job.StartedAt = &started
			job.LockedBy = &workerID
			copied := *job
			return &copied
		}
		return nil
	}

	// Due-scheduled retries first, then fresh pending FIFO.
	if job := claim(true); job != nil {
		return job, nil
	}
	return claim(false), nil
}

func (m *memJobStore) MarkCompleted(ctx context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status != state.StatusProcessing {
		return fmt.Errorf("job %s: %w", jobID, joberrors.ErrInvalidTransition)
	}
	job.Status = state.StatusCompleted
	finished := m.now()
	job.CompletedAt = &finished
	job.LockedBy = nil
	return nil
}

func (m *memJobStore) MarkFailedTerminal(ctx context.Context, jobID uuid.UUID, jobErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status != state.StatusProcessing {
		return fmt.Errorf("job %s: %w", jobID, joberrors.ErrInvalidTransition)
	}
	job.Status = state.StatusFailed
	job.AttemptCount++
	job.LastError = &jobErr
	job.NextRetryAt = nil
	job.LockedBy = nil
	return nil
}

func (m *memJobStore) Reschedule(ctx context.Context, jobID uuid.UUID, nextRetryAt time.Time, cause string, countAttempt bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status != state.StatusProcessing {
		return fmt.Errorf("job %s: %w", jobID, joberrors.ErrInvalidTransition)
	}
	job.Status = state.StatusScheduled
	if countAttempt {
		job.AttemptCount++
	}
	job.NextRetryAt = &nextRetryAt
	job.LastError = &cause
	job.LockedBy = nil
	return nil
}

func (m *memJobStore) ReapStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cause := "stale claim reclaimed"
	var swept int64
	for _, job := range m.jobs {
		if job.Status != state.StatusProcessing || job.StartedAt == nil {
			continue
		}
		if job.StartedAt.After(now.Add(-olderThan)) {
			continue
		}
		job.AttemptCount++
		job.LastError = &cause
		job.LockedBy = nil
		if job.AttemptCount >= job.MaxAttempts {
			job.Status = state.StatusFailed
			job.NextRetryAt = nil
		} else {
			job.Status = state.StatusScheduled
			retryAt := now.Add(time.Second)
			job.NextRetryAt = &retryAt
		}
		swept++
	}
	return swept, nil
}

func (m *memJobStore) FindByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *memJobStore) FetchJobs(ctx context.Context, page, pageSize int, statuses []state.JobStatus) (*models.PaginationResult[models.Job], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[state.JobStatus]bool)
	for _, s := range statuses {
		wanted[s] = true
	}
	var items []models.Job
	for _, id := range m.order {
		job := m.jobs[id]
		if len(wanted) == 0 || wanted[job.Status] {
			items = append(items, *job)
		}
	}
	return &models.PaginationResult[models.Job]{Items: items, TotalItems: len(items), Page: page, PageSize: pageSize}, nil
}

func (m *memJobStore) CountByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[state.JobStatus]int)
	for _, job := range m.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (m *memJobStore) Close() error { return nil }

// ===================== Limiter Mock =========================

// memLimiter applies the window contract with a plain mutex: Allowed while
// under the limit, Deferred until window end once full.
type memLimiter struct {
	mu        sync.Mutex
	counts    map[string]int
	windowEnd time.Time
	now       func() time.Time
	err       error
}

func newMemLimiter(windowEnd time.Time) *memLimiter {
	return &memLimiter{
		counts:    make(map[string]int),
		windowEnd: windowEnd,
		now:       time.Now,
	}
}

func (l *memLimiter) CheckAndReserve(ctx context.Context, resourceKey string, limit int) (ratelimit.Decision, error) {
	if l.err != nil {
		return ratelimit.Decision{}, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.counts[resourceKey] >= limit {
		return ratelimit.Decision{RetryAfter: l.windowEnd.Sub(l.now())}, nil
	}
	l.counts[resourceKey]++
	return ratelimit.Decision{Allowed: true}, nil
}

// ===================== Recorder Mock =========================

type recordedOutcome struct {
	Job    models.Job
	Result models.JobResult
}

type mockRecorder struct {
	mu       sync.Mutex
	recorded []recordedOutcome
}

func (r *mockRecorder) Record(ctx context.Context, job *models.Job, result models.JobResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, recordedOutcome{Job: *job, Result: result})
}

func (r *mockRecorder) outcomes() []recordedOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedOutcome, len(r.recorded))
	copy(out, r.recorded)
	return out
}

// ===================== Dispatcher Mock =========================

type mockDispatcher struct {
	MockDispatch func(ctx context.Context, job *models.Job) dispatch.Outcome
}

func (d *mockDispatcher) Dispatch(ctx context.Context, job *models.Job) dispatch.Outcome {
	return d.MockDispatch(ctx, job)
}

// ===================== Lock Mock =========================

type mockLockManager struct {
	mu       sync.Mutex
	held     map[int]bool
	acquires int
}

func newMockLockManager() *mockLockManager {
	return &mockLockManager{held: make(map[int]bool)}
}

func (m *mockLockManager) Acquire(lockID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[lockID] = true
	return nil
}

func (m *mockLockManager) TryAcquire(lockID int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[lockID] {
		return false, nil
	}
	m.held[lockID] = true
	m.acquires++
	return true, nil
}

func (m *mockLockManager) Release(lockID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, lockID)
	return nil
}
