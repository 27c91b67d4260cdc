// Package retry decides whether a failed attempt gets another run and how
// long to wait before it, using capped exponential backoff with jitter.
package retry

import (
	"math/rand"
	"time"

	"github.com/outreachiq/jobengine/internal/joberrors"
)

const (
	DefaultBase       = 30 * time.Second
	DefaultCap        = time.Hour
	DefaultJitterFrac = 0.2
)

// Decision is either Terminal or RetryAfter(d).
type Decision struct {
	Terminal   bool
	RetryAfter time.Duration
}

type Policy struct {
	// Base is the delay after the first failed attempt; it doubles per
	// attempt up to Cap.
	Base time.Duration
	Cap  time.Duration
	// JitterFrac spreads delays by +/- this fraction so rescheduled jobs
	// do not all become claimable in the same poll.
	JitterFrac float64
}

func DefaultPolicy() Policy {
	return Policy{Base: DefaultBase, Cap: DefaultCap, JitterFrac: DefaultJitterFrac}
}

// Decide computes the retry decision for the attempt that just failed.
// attempt is 1-based: the first execution of a job is attempt 1. Permanent
// errors and exhausted attempts are terminal regardless of kind.
func (p Policy) Decide(attempt, maxAttempts int, kind joberrors.Kind) Decision {
	if kind == joberrors.KindPermanent {
		return Decision{Terminal: true}
	}
	if attempt >= maxAttempts {
		return Decision{Terminal: true}
	}
	return Decision{RetryAfter: p.jitter(p.backoff(attempt))}
}

// backoff returns the pre-jitter delay for a given 1-based attempt:
// Base, 2*Base, 4*Base, ... capped at Cap.
func (p Policy) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

func (p Policy) jitter(d time.Duration) time.Duration {
	if p.JitterFrac <= 0 {
		return d
	}
	// Uniform in [-JitterFrac, +JitterFrac].
	f := 1 + p.JitterFrac*(2*rand.Float64()-1)
	return time.Duration(float64(d) * f)
}
