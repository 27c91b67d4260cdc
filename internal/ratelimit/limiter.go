// Package ratelimit gates claimed jobs on per-resource daily sending
// allowances. Reservations are atomic check-and-increments so concurrent
// workers sharing an inbox can never push a window past its limit.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one reservation attempt. A deferred job is not
// a failed job: the caller reschedules it for when the window rolls over
// without consuming an attempt.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Limiter interface {
	// CheckAndReserve reserves one send against the current window for
	// resourceKey, creating the window lazily with the given limit. The
	// read-increment-check must be a single atomic operation in the
	// backing store.
	CheckAndReserve(ctx context.Context, resourceKey string, limit int) (Decision, error)
}

// WindowFor returns the bounds of the 24h window containing now, aligned to
// boundaryHour (UTC).
func WindowFor(now time.Time, boundaryHour int) (start, end time.Time) {
	now = now.UTC()
	start = time.Date(now.Year(), now.Month(), now.Day(), boundaryHour, 0, 0, 0, time.UTC)
	if start.After(now) {
		start = start.Add(-24 * time.Hour)
	}
	return start, start.Add(24 * time.Hour)
}
