// Package lock provides process-level mutual exclusion over Postgres
// advisory locks: migrations run once, and only one worker process sweeps
// stale claims.
package lock

// Lock identifiers. Advisory locks are keyed by integer across the whole
// database, so these must not collide with other subsystems.
const (
	MigrationLock = 7_401_001
	ReaperLock    = 7_401_002
)

type DistributedLockManager interface {
	// Acquire blocks until the lock is held.
	Acquire(lockID int) error
	// TryAcquire returns false without blocking when another session holds
	// the lock.
	TryAcquire(lockID int) (bool, error)
	Release(lockID int) error
}
