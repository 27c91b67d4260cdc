package joberrors

import (
	"errors"
	"fmt"
)

// Kind splits handler failures into retryable and immediately-terminal.
type Kind int

const (
	// KindTransient covers network timeouts, provider throttling and
	// temporary SMTP 4xx responses. Retried while attempts remain.
	KindTransient Kind = iota
	// KindPermanent covers invalid recipients, SMTP 5xx hard bounces and
	// malformed payloads. Never retried.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ClassifiedError is the only error shape a handler may return. Handlers
// classify their own failures; raw errors never reach the scheduler loop.
type ClassifiedError struct {
	Kind Kind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

func Transient(err error) *ClassifiedError {
	return &ClassifiedError{Kind: KindTransient, Err: err}
}

func Permanent(err error) *ClassifiedError {
	return &ClassifiedError{Kind: KindPermanent, Err: err}
}

func Transientf(format string, args ...any) *ClassifiedError {
	return Transient(fmt.Errorf(format, args...))
}

func Permanentf(format string, args ...any) *ClassifiedError {
	return Permanent(fmt.Errorf(format, args...))
}

// ErrInvalidTransition signals a bug, not a retryable condition: a job was
// asked to move along an edge the state machine forbids, e.g. completing a
// job that is no longer processing.
var ErrInvalidTransition = errors.New("invalid job status transition")

// ErrNoHandler is the terminal configuration error for a job type nothing
// registered a handler for. No retry can ever succeed.
var ErrNoHandler = errors.New("no handler registered for job type")

// PersistenceError wraps a storage failure so callers can tell an
// unavailable database apart from a job-level failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func Persistence(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}
