package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/outreachiq/jobengine/internal/joberrors"
	"github.com/outreachiq/jobengine/internal/models"
	"github.com/outreachiq/jobengine/internal/state"
	"github.com/outreachiq/jobengine/internal/store"
)

// JobStore is the relational implementation of store.JobStore. Claims ride
// on FOR UPDATE SKIP LOCKED so concurrent workers never contend for, or
// double-claim, the same row.
type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Enqueue(ctx context.Context, p store.EnqueueParams) (uuid.UUID, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = store.DefaultMaxAttempts
	}

	jobID := uuid.New()
	query := `
        INSERT INTO jobengine.jobs (
            id,
            job_type,
            payload,
            status,
            attempt_count,
            max_attempts,
            workspace_id,
            resource_key,
            provider,
            created_at
        )
        VALUES ($1, $2, $3, 'pending', 0, $4, $5, $6, $7, now())
    `

	_, err := s.db.ExecContext(ctx, query,
		jobID,
		p.Type,
		p.Payload,
		maxAttempts,
		p.WorkspaceID,
		p.ResourceKey,
		p.Provider,
	)
	if err != nil {
		return uuid.Nil, joberrors.Persistence("enqueue", err)
	}
	return jobID, nil
}

const claimQuery = `
		WITH claimable AS (
			SELECT id FROM jobengine.jobs
			WHERE job_type = ANY($1)
			  AND (status = 'pending' OR (status = 'scheduled' AND next_retry_at <= now()))
			ORDER BY (status = 'scheduled') DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobengine.jobs j
		SET status = 'processing',
		    started_at = now(),
		    locked_by = $2
		FROM claimable
		WHERE j.id = claimable.id
		RETURNING j.id, j.job_type, j.payload, j.status, j.attempt_count, j.max_attempts,
		          j.next_retry_at, j.created_at, j.started_at, j.completed_at, j.last_error,
		          j.workspace_id, j.resource_key, j.provider, j.locked_by
	`

func (s *JobStore) ClaimNext(ctx context.Context, eligibleTypes []models.JobType, workerID string) (*models.Job, error) {
	types := make([]string, len(eligibleTypes))
	for i, t := range eligibleTypes {
		types[i] = t.String()
	}

	row := s.db.QueryRowContext(ctx, claimQuery, pq.Array(types), workerID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, joberrors.Persistence("claim_next", err)
	}
	return job, nil
}

func (s *JobStore) MarkCompleted(ctx context.Context, jobID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobengine.jobs
		SET status = 'completed',
		    completed_at = now(),
		    locked_by = NULL
		WHERE id = $1 AND status = 'processing'
	`, jobID)
	if err != nil {
		return joberrors.Persistence("mark_completed", err)
	}
	return requireTransition(res, jobID, state.StatusCompleted)
}

func (s *JobStore) MarkFailedTerminal(ctx context.Context, jobID uuid.UUID, jobErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobengine.jobs
		SET status = 'failed',
		    attempt_count = attempt_count + 1,
		    last_error = $2,
		    next_retry_at = NULL,
		    completed_at = now(),
		    locked_by = NULL
		WHERE id = $1 AND status = 'processing'
	`, jobID, jobErr)
	if err != nil {
		return joberrors.Persistence("mark_failed_terminal", err)
	}
	return requireTransition(res, jobID, state.StatusFailed)
}

func (s *JobStore) Reschedule(ctx context.Context, jobID uuid.UUID, nextRetryAt time.Time, cause string, countAttempt bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobengine.jobs
		SET status = 'scheduled',
		    attempt_count = attempt_count + CASE WHEN $4 THEN 1 ELSE 0 END,
		    next_retry_at = $2,
		    last_error = $3,
		    locked_by = NULL
		WHERE id = $1 AND status = 'processing'
	`, jobID, nextRetryAt, cause, countAttempt)
	if err != nil {
		return joberrors.Persistence("reschedule", err)
	}
	return requireTransition(res, jobID, state.StatusScheduled)
}

// ReapStale reclaims claims abandoned by a crashed or stalled worker. The
// stall counts as one transient failure: attempt_count goes up by exactly
// one and the job is claimable again one second out (next_retry_at stays
// strictly in the future at the time it is set), unless that exhausted its
// attempts, in which case it fails terminally.
func (s *JobStore) ReapStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobengine.jobs
		SET status = CASE WHEN attempt_count + 1 >= max_attempts THEN 'failed' ELSE 'scheduled' END,
		    attempt_count = attempt_count + 1,
		    next_retry_at = CASE WHEN attempt_count + 1 >= max_attempts THEN NULL ELSE now() + interval '1 second' END,
		    last_error = 'stale claim reclaimed',
		    locked_by = NULL
		WHERE status = 'processing'
		  AND started_at <= now() - make_interval(secs => $1)
	`, olderThan.Seconds())
	if err != nil {
		return 0, joberrors.Persistence("reap_stale", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (s *JobStore) FindByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_type, payload, status, attempt_count, max_attempts,
		       next_retry_at, created_at, started_at, completed_at, last_error,
		       workspace_id, resource_key, provider, locked_by
		FROM jobengine.jobs
		WHERE id = $1
	`, jobID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, joberrors.Persistence("find_by_id", err)
	}
	return job, nil
}

func (s *JobStore) FetchJobs(ctx context.Context, page, pageSize int, statuses []state.JobStatus) (*models.PaginationResult[models.Job], error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	where := "1=1"
	args := []interface{}{}
	argIndex := 1

	if len(statuses) > 0 {
		where += fmt.Sprintf(" AND status = ANY($%d)", argIndex)
		values := make([]string, len(statuses))
		for i, st := range statuses {
			values[i] = st.String()
		}
		args = append(args, pq.Array(values))
		argIndex++
	}

	countQuery := `SELECT COUNT(*) FROM jobengine.jobs WHERE ` + where

	var totalItems int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalItems); err != nil {
		return nil, joberrors.Persistence("fetch_jobs_count", err)
	}

	selectQuery := `
		SELECT id, job_type, payload, status, attempt_count, max_attempts,
		       next_retry_at, created_at, started_at, completed_at, last_error,
		       workspace_id, resource_key, provider, locked_by
		FROM jobengine.jobs
		WHERE ` + where + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, pageSize, offset)

	rows, err := s.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, joberrors.Persistence("fetch_jobs", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, joberrors.Persistence("fetch_jobs_scan", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, joberrors.Persistence("fetch_jobs_rows", err)
	}

	totalPages := int(math.Ceil(float64(totalItems) / float64(pageSize)))
	return &models.PaginationResult[models.Job]{
		Items:           jobs,
		TotalItems:      totalItems,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}, nil
}

func (s *JobStore) CountByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM jobengine.jobs
		GROUP BY status
	`)
	if err != nil {
		return nil, joberrors.Persistence("count_by_status", err)
	}
	defer rows.Close()

	counts := make(map[state.JobStatus]int)
	for rows.Next() {
		var status state.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, joberrors.Persistence("count_by_status_scan", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (s *JobStore) InsertUsageEvent(ctx context.Context, workspaceID uuid.UUID, metric string, quantity int, jobID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobengine.usage_events (workspace_id, metric, quantity, job_id, recorded_at)
		VALUES ($1, $2, $3, $4, now())
	`, workspaceID, metric, quantity, jobID)
	if err != nil {
		return joberrors.Persistence("insert_usage_event", err)
	}
	return nil
}

func (s *JobStore) Close() error {
	return s.db.Close()
}

// requireTransition turns a zero-row conditional update into the loud
// invalid-transition signal: the job was not in the state the caller
// assumed, which means a double completion or similar bug.
func requireTransition(res sql.Result, jobID uuid.UUID, to state.JobStatus) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return joberrors.Persistence("rows_affected", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s to %s: %w", jobID, to, joberrors.ErrInvalidTransition)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	if err := row.Scan(
		&job.ID,
		&job.Type,
		&job.Payload,
		&job.Status,
		&job.AttemptCount,
		&job.MaxAttempts,
		&job.NextRetryAt,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.LastError,
		&job.WorkspaceID,
		&job.ResourceKey,
		&job.Provider,
		&job.LockedBy,
	); err != nil {
		return nil, err
	}
	return &job, nil
}
