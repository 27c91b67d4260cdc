package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/outreachiq/jobengine/internal/joberrors"
	"github.com/outreachiq/jobengine/internal/models"
)

func testJob(jobType models.JobType) *models.Job {
	return &models.Job{
		ID:          uuid.New(),
		Type:        jobType,
		Payload:     json.RawMessage(`{}`),
		WorkspaceID: uuid.New(),
		MaxAttempts: 3,
	}
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()

	err := reg.Register(models.JobTypeSendEmail, Handler{
		Run: func(ctx context.Context, payload json.RawMessage) *joberrors.ClassifiedError { return nil },
	})
	require.NoError(t, err)

	h, ok := reg.Lookup(models.JobTypeSendEmail)
	require.True(t, ok)
	assert.Equal(t, DefaultTimeout, h.Timeout)
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	reg := NewRegistry()
	noop := Handler{Run: func(ctx context.Context, payload json.RawMessage) *joberrors.ClassifiedError { return nil }}

	require.NoError(t, reg.Register(models.JobTypeSendEmail, noop))
	err := reg.Register(models.JobTypeSendEmail, noop)
	assert.Error(t, err)
}

func TestRegistry_Register_UnknownType(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(models.JobType("resize_image"), Handler{
		Run: func(ctx context.Context, payload json.RawMessage) *joberrors.ClassifiedError { return nil },
	})
	assert.Error(t, err)
}

func TestRegistry_Types(t *testing.T) {
	reg := NewRegistry()
	noop := Handler{Run: func(ctx context.Context, payload json.RawMessage) *joberrors.ClassifiedError { return nil }}

	require.NoError(t, reg.Register(models.JobTypeSendEmail, noop))
	require.NoError(t, reg.Register(models.JobTypeVerifyEmail, noop))

	assert.ElementsMatch(t, []models.JobType{models.JobTypeSendEmail, models.JobTypeVerifyEmail}, reg.Types())
}

func TestDispatch_Success(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(models.JobTypeSendEmail, Handler{
		Run: func(ctx context.Context, payload json.RawMessage) *joberrors.ClassifiedError { return nil },
	}))

	d := NewDispatcher(reg, zap.NewNop())
	outcome := d.Dispatch(context.Background(), testJob(models.JobTypeSendEmail))

	assert.Nil(t, outcome.Err)
	assert.False(t, outcome.ConfigError)
}

func TestDispatch_ClassifiedFailurePassesThrough(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(models.JobTypeSendEmail, Handler{
		Run: func(ctx context.Context, payload json.RawMessage) *joberrors.ClassifiedError {
			return joberrors.Permanent(errors.New("550 mailbox unavailable"))
		},
	}))

	d := NewDispatcher(reg, zap.NewNop())
	outcome := d.Dispatch(context.Background(), testJob(models.JobTypeSendEmail))

	require.NotNil(t, outcome.Err)
	assert.Equal(t, joberrors.KindPermanent, outcome.Err.Kind)
}

func TestDispatch_TimeoutIsTransient(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(models.JobTypeSendEmail, Handler{
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context, payload json.RawMessage) *joberrors.ClassifiedError {
			<-ctx.Done()
			return joberrors.Transient(ctx.Err())
		},
	}))

	d := NewDispatcher(reg, zap.NewNop())
	outcome := d.Dispatch(context.Background(), testJob(models.JobTypeSendEmail))

	require.NotNil(t, outcome.Err)
	assert.Equal(t, joberrors.KindTransient, outcome.Err.Kind)
}

func TestDispatch_PanicIsTransient(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(models.JobTypeVerifyEmail, Handler{
		Run: func(ctx context.Context, payload json.RawMessage) *joberrors.ClassifiedError {
			panic("nil dereference in verifier")
		},
	}))

	d := NewDispatcher(reg, zap.NewNop())
	outcome := d.Dispatch(context.Background(), testJob(models.JobTypeVerifyEmail))

	require.NotNil(t, outcome.Err)
	assert.Equal(t, joberrors.KindTransient, outcome.Err.Kind)
}

func TestDispatch_UnknownTypeIsTerminalConfigError(t *testing.T) {
	d := NewDispatcher(NewRegistry(), zap.NewNop())
	outcome := d.Dispatch(context.Background(), testJob(models.JobTypeWarmupEmail))

	require.NotNil(t, outcome.Err)
	assert.True(t, outcome.ConfigError)
	assert.Equal(t, joberrors.KindPermanent, outcome.Err.Kind)
	assert.ErrorIs(t, outcome.Err, joberrors.ErrNoHandler)
}

func TestDispatch_CallerCancelDoesNotCutHandlerBudget(t *testing.T) {
	started := make(chan struct{})
	reg := NewRegistry()
	require.NoError(t, reg.Register(models.JobTypeSendEmail, Handler{
		Timeout: 10 * time.Second,
		Run: func(ctx context.Context, payload json.RawMessage) *joberrors.ClassifiedError {
			close(started)
			select {
			case <-ctx.Done():
				return joberrors.Transientf("budget cut: %v", ctx.Err())
			case <-time.After(50 * time.Millisecond):
				return nil
			}
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	d := NewDispatcher(reg, zap.NewNop())
	outcome := d.Dispatch(ctx, testJob(models.JobTypeSendEmail))

	// A shutdown mid-handler is not a timeout; the job finishes within its
	// own budget.
	assert.Nil(t, outcome.Err)
}
