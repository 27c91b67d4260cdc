// Package dispatch routes a claimed job to the handler registered for its
// type and enforces the handler's execution budget. The dispatcher itself is
// side-effect free; everything a job does happens inside its handler.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/outreachiq/jobengine/internal/joberrors"
	"github.com/outreachiq/jobengine/internal/models"
)

// Outcome is what one execution produced. A nil Err means success.
// ConfigError marks the unknown-job-type case, which is terminal and must
// not be retried since no handler can ever succeed.
type Outcome struct {
	Err         *joberrors.ClassifiedError
	ConfigError bool
	Duration    time.Duration
}

type Dispatcher struct {
	registry *Registry
	log      *zap.Logger
}

func NewDispatcher(registry *Registry, log *zap.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, log: log}
}

// Dispatch runs job under the handler's timeout. Timeouts and handler panics
// come back as transient errors; a missing handler is a terminal
// configuration error.
func (d *Dispatcher) Dispatch(ctx context.Context, job *models.Job) Outcome {
	handler, ok := d.registry.Lookup(job.Type)
	if !ok {
		d.log.Error("no handler for job type",
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", job.Type.String()))
		return Outcome{
			Err:         joberrors.Permanent(fmt.Errorf("%w: %s", joberrors.ErrNoHandler, job.Type)),
			ConfigError: true,
		}
	}

	// The handler runs against its own budget, detached from the caller's
	// cancellation: a shutdown mid-handler must let the job finish rather
	// than surface as a timeout and burn an attempt on a healthy job.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handler.Timeout)
	defer cancel()

	start := time.Now()
	result := make(chan *joberrors.ClassifiedError, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("handler panicked",
					zap.String("job_id", job.ID.String()),
					zap.String("job_type", job.Type.String()),
					zap.Any("panic", r))
				result <- joberrors.Transientf("handler panic: %v", r)
			}
		}()
		result <- handler.Run(runCtx, job.Payload)
	}()

	select {
	case err := <-result:
		return Outcome{Err: err, Duration: time.Since(start)}
	case <-runCtx.Done():
		// The handler goroutine is abandoned; its send still lands in the
		// buffered channel.
		return Outcome{
			Err:      joberrors.Transientf("handler timed out after %s", handler.Timeout),
			Duration: time.Since(start),
		}
	}
}
