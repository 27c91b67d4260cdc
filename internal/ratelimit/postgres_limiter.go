package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/outreachiq/jobengine/internal/joberrors"
)

// PostgresLimiter tracks windows in the rate_windows table. The reservation
// is one upsert: insert the window with count 1, or increment it only while
// the count is below the limit. A conflicting upsert whose WHERE clause
// rejects the increment returns no row, which is the deferred case.
type PostgresLimiter struct {
	db           *sql.DB
	boundaryHour int
	now          func() time.Time
}

func NewPostgresLimiter(db *sql.DB, boundaryHour int) *PostgresLimiter {
	return &PostgresLimiter{
		db:           db,
		boundaryHour: boundaryHour,
		now:          time.Now,
	}
}

const reserveQuery = `
		INSERT INTO jobengine.rate_windows (resource_key, window_start, window_end, sent_count, send_limit)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (resource_key, window_start)
		DO UPDATE SET sent_count = rate_windows.sent_count + 1
		WHERE rate_windows.sent_count < rate_windows.send_limit
		RETURNING sent_count
	`

func (l *PostgresLimiter) CheckAndReserve(ctx context.Context, resourceKey string, limit int) (Decision, error) {
	now := l.now()
	windowStart, windowEnd := WindowFor(now, l.boundaryHour)

	var sentCount int
	err := l.db.QueryRowContext(ctx, reserveQuery,
		resourceKey,
		windowStart,
		windowEnd,
		limit,
	).Scan(&sentCount)

	if errors.Is(err, sql.ErrNoRows) {
		// Window is full; claimable again once it rolls over.
		return Decision{RetryAfter: windowEnd.Sub(now)}, nil
	}
	if err != nil {
		return Decision{}, joberrors.Persistence("check_and_reserve", err)
	}
	return Decision{Allowed: true}, nil
}

// PurgeExpired drops windows that ended before the cutoff. Run from the
// maintenance schedule; reservation correctness never depends on it.
func (l *PostgresLimiter) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		DELETE FROM jobengine.rate_windows
		WHERE window_end < $1
	`, before)
	if err != nil {
		return 0, joberrors.Persistence("purge_expired_windows", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
