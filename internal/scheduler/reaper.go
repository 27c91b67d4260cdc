package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/outreachiq/jobengine/internal/lock"
	"github.com/outreachiq/jobengine/internal/store"
)

// Reaper reclaims jobs whose worker died mid-processing. A claim older than
// staleAfter is treated as one transient failure: swept back to scheduled
// with attempt_count incremented exactly once. The advisory lock keeps the
// sweep to a single process so a reclaimed job is never swept twice in the
// same pass.
type Reaper struct {
	store      store.JobStore
	locks      lock.DistributedLockManager
	staleAfter time.Duration
	log        *zap.Logger
}

func NewReaper(jobStore store.JobStore, locks lock.DistributedLockManager, staleAfter time.Duration, log *zap.Logger) *Reaper {
	return &Reaper{
		store:      jobStore,
		locks:      locks,
		staleAfter: staleAfter,
		log:        log,
	}
}

// Sweep runs one pass. Losing the lock race is not an error; another process
// is already sweeping.
func (r *Reaper) Sweep(ctx context.Context) {
	acquired, err := r.locks.TryAcquire(lock.ReaperLock)
	if err != nil {
		r.log.Error("reaper lock failed", zap.Error(err))
		return
	}
	if !acquired {
		return
	}
	defer r.locks.Release(lock.ReaperLock)

	swept, err := r.store.ReapStale(ctx, r.staleAfter)
	if err != nil {
		r.log.Error("stale claim sweep failed", zap.Error(err))
		return
	}
	if swept > 0 {
		r.log.Warn("reclaimed stale claims",
			zap.Int64("count", swept),
			zap.Duration("stale_after", r.staleAfter))
	}
}
