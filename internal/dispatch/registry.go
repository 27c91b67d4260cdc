package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/outreachiq/jobengine/internal/joberrors"
	"github.com/outreachiq/jobengine/internal/models"
)

// HandlerFunc executes one job payload. Implementations must classify every
// failure as transient or permanent before returning; the scheduler never
// sees a raw error.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) *joberrors.ClassifiedError

// Handler pairs a job-type handler with its execution budget.
type Handler struct {
	Run     HandlerFunc
	Timeout time.Duration
}

const DefaultTimeout = 30 * time.Second

// Registry maps each job type to its handler. Handlers are registered once
// at startup; registering twice for the same type is a configuration bug.
type Registry struct {
	mu       sync.RWMutex
	handlers map[models.JobType]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[models.JobType]Handler),
	}
}

func (r *Registry) Register(jobType models.JobType, h Handler) error {
	if !jobType.Valid() {
		return fmt.Errorf("register: unknown job type %q", jobType)
	}
	if h.Run == nil {
		return fmt.Errorf("register %s: handler func is required", jobType)
	}
	if h.Timeout <= 0 {
		h.Timeout = DefaultTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("register %s: handler already registered", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

func (r *Registry) Lookup(jobType models.JobType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns the job types with registered handlers, the set the
// scheduler claims for.
func (r *Registry) Types() []models.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
