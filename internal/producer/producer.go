// Package producer is the typed enqueue surface. Application code never
// builds raw payload bytes or picks resource keys by hand; each helper here
// marshals the payload and applies the queueing rules for its job type.
package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/outreachiq/jobengine/internal/models"
	"github.com/outreachiq/jobengine/internal/store"
)

type Producer struct {
	store store.JobStore
}

func New(jobStore store.JobStore) *Producer {
	return &Producer{store: jobStore}
}

// EnqueueSendEmail queues one campaign email. The sending inbox is the rate
// limiting resource; provider selects its daily cap.
func (p *Producer) EnqueueSendEmail(ctx context.Context, workspaceID uuid.UUID, provider string, payload models.SendEmailPayload) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal send email payload: %w", err)
	}
	resourceKey := payload.EmailAccountID.String()
	return p.store.Enqueue(ctx, store.EnqueueParams{
		Type:        models.JobTypeSendEmail,
		Payload:     body,
		WorkspaceID: workspaceID,
		ResourceKey: &resourceKey,
		Provider:    &provider,
	})
}

func (p *Producer) EnqueueVerifyEmail(ctx context.Context, workspaceID uuid.UUID, payload models.VerifyEmailPayload) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal verify email payload: %w", err)
	}
	return p.store.Enqueue(ctx, store.EnqueueParams{
		Type:        models.JobTypeVerifyEmail,
		Payload:     body,
		WorkspaceID: workspaceID,
	})
}

// EnqueueWarmupEmail queues a warmup send. Warmup traffic shares the inbox's
// daily window with campaign sends.
func (p *Producer) EnqueueWarmupEmail(ctx context.Context, workspaceID uuid.UUID, provider string, payload models.WarmupEmailPayload) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal warmup email payload: %w", err)
	}
	resourceKey := payload.EmailAccountID.String()
	return p.store.Enqueue(ctx, store.EnqueueParams{
		Type:        models.JobTypeWarmupEmail,
		Payload:     body,
		WorkspaceID: workspaceID,
		ResourceKey: &resourceKey,
		Provider:    &provider,
	})
}

// EnqueueProcessCampaign queues a campaign evaluation pass. Campaign jobs
// retry only once on top of the first attempt; the scheduler re-enqueues
// them periodically anyway.
func (p *Producer) EnqueueProcessCampaign(ctx context.Context, workspaceID uuid.UUID, payload models.ProcessCampaignPayload) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal process campaign payload: %w", err)
	}
	return p.store.Enqueue(ctx, store.EnqueueParams{
		Type:        models.JobTypeProcessCampaign,
		Payload:     body,
		WorkspaceID: workspaceID,
		MaxAttempts: 2,
	})
}

func (p *Producer) EnqueueUpdateAnalytics(ctx context.Context, workspaceID uuid.UUID) (uuid.UUID, error) {
	body, err := json.Marshal(models.UpdateAnalyticsPayload{WorkspaceID: workspaceID})
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal update analytics payload: %w", err)
	}
	return p.store.Enqueue(ctx, store.EnqueueParams{
		Type:        models.JobTypeUpdateAnalytics,
		Payload:     body,
		WorkspaceID: workspaceID,
		MaxAttempts: 1,
	})
}
