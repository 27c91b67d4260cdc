package lock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// PostgresLockManager takes session-level advisory locks. Advisory locks
// belong to the session that acquired them, so each held lock pins one
// connection out of the pool; Release unlocks on that same connection and
// returns it. Going through the pooled *sql.DB instead would acquire and
// release on different sessions and leak the lock.
type PostgresLockManager struct {
	db    *sql.DB
	mu    sync.Mutex
	conns map[int]*sql.Conn
}

func NewPostgresLockManager(db *sql.DB) *PostgresLockManager {
	return &PostgresLockManager{
		db:    db,
		conns: make(map[int]*sql.Conn),
	}
}

// Acquire blocks until the lock is held. No timeout: waiting out a peer's
// migration run is the expected case.
func (l *PostgresLockManager) Acquire(lockID int) error {
	ctx := context.Background()

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		conn.Close()
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.storeConn(lockID, conn)
	return nil
}

func (l *PostgresLockManager) TryAcquire(lockID int) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to try lock: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("failed to try lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}

	l.storeConn(lockID, conn)
	return true, nil
}

func (l *PostgresLockManager) Release(lockID int) error {
	l.mu.Lock()
	conn := l.conns[lockID]
	delete(l.conns, lockID)
	l.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("release: lock %d is not held", lockID)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockID); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *PostgresLockManager) storeConn(lockID int, conn *sql.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conns[lockID] = conn
}
