// Package handlers binds the engine's job types to the application services
// that do the actual work. Each handler decodes its typed payload, invokes
// one collaborator, and classifies the result; a payload that does not
// decode can never succeed and is rejected permanently.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/outreachiq/jobengine/internal/dispatch"
	"github.com/outreachiq/jobengine/internal/joberrors"
	"github.com/outreachiq/jobengine/internal/models"
)

// Mailer delivers a rendered campaign email through the lead's inbox.
type Mailer interface {
	Send(ctx context.Context, p models.SendEmailPayload) error
}

// Verifier checks deliverability of a lead's address.
type Verifier interface {
	Verify(ctx context.Context, p models.VerifyEmailPayload) error
}

// WarmupSender exchanges warmup traffic between managed inboxes.
type WarmupSender interface {
	SendWarmup(ctx context.Context, p models.WarmupEmailPayload) error
}

// CampaignProcessor advances a campaign: picks due leads, renders their next
// sequence step, and enqueues the resulting send jobs.
type CampaignProcessor interface {
	Process(ctx context.Context, p models.ProcessCampaignPayload) error
}

// AnalyticsRefresher recomputes a workspace's rollup stats.
type AnalyticsRefresher interface {
	Refresh(ctx context.Context, p models.UpdateAnalyticsPayload) error
}

// Deps are the collaborators the handlers run against.
type Deps struct {
	Mailer    Mailer
	Verifier  Verifier
	Warmup    WarmupSender
	Campaigns CampaignProcessor
	Analytics AnalyticsRefresher
}

// Register wires every job type with a non-nil collaborator into the
// registry. Types without a collaborator stay unregistered and are simply
// never claimed by this worker.
func Register(reg *dispatch.Registry, deps Deps) error {
	if deps.Mailer != nil {
		err := reg.Register(models.JobTypeSendEmail, dispatch.Handler{
			Run:     typed(deps.Mailer.Send),
			Timeout: time.Minute,
		})
		if err != nil {
			return err
		}
	}
	if deps.Verifier != nil {
		err := reg.Register(models.JobTypeVerifyEmail, dispatch.Handler{
			Run: typed(deps.Verifier.Verify),
		})
		if err != nil {
			return err
		}
	}
	if deps.Warmup != nil {
		err := reg.Register(models.JobTypeWarmupEmail, dispatch.Handler{
			Run:     typed(deps.Warmup.SendWarmup),
			Timeout: time.Minute,
		})
		if err != nil {
			return err
		}
	}
	if deps.Campaigns != nil {
		err := reg.Register(models.JobTypeProcessCampaign, dispatch.Handler{
			Run:     typed(deps.Campaigns.Process),
			Timeout: 5 * time.Minute,
		})
		if err != nil {
			return err
		}
	}
	if deps.Analytics != nil {
		err := reg.Register(models.JobTypeUpdateAnalytics, dispatch.Handler{
			Run:     typed(deps.Analytics.Refresh),
			Timeout: 5 * time.Minute,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// typed adapts a payload-typed collaborator call into a HandlerFunc. Decode
// failures are permanent; collaborator errors keep their classification when
// they carry one and default to transient otherwise, so an unannotated
// network hiccup gets retried.
func typed[P any](run func(ctx context.Context, p P) error) dispatch.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) *joberrors.ClassifiedError {
		var p P
		if err := json.Unmarshal(payload, &p); err != nil {
			return joberrors.Permanent(fmt.Errorf("decode payload: %w", err))
		}
		if err := run(ctx, p); err != nil {
			return classify(err)
		}
		return nil
	}
}

func classify(err error) *joberrors.ClassifiedError {
	var classified *joberrors.ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}
	return joberrors.Transient(err)
}
