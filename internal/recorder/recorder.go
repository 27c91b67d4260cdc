// Package recorder applies the after-effects of a finished attempt: usage
// increments for billing on success, and a campaign-health event on terminal
// failure so the auto-pause subsystem can react. It never influences the job
// transition itself, which has already been persisted by the time Record
// runs.
package recorder

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/outreachiq/jobengine/internal/broker"
	"github.com/outreachiq/jobengine/internal/models"
	"github.com/outreachiq/jobengine/internal/state"
	"github.com/outreachiq/jobengine/internal/store"
)

// Metric names appended to usage_events per completed job type.
var usageMetrics = map[models.JobType]string{
	models.JobTypeSendEmail:       "emails_sent",
	models.JobTypeVerifyEmail:     "emails_verified",
	models.JobTypeWarmupEmail:     "warmup_emails_sent",
	models.JobTypeProcessCampaign: "campaigns_processed",
	models.JobTypeUpdateAnalytics: "analytics_refreshes",
}

const CampaignHealthRoutingKey = "campaign.health"

// CampaignHealthEvent is published once per terminal campaign-job failure.
type CampaignHealthEvent struct {
	JobID       string    `json:"job_id"`
	JobType     string    `json:"job_type"`
	WorkspaceID string    `json:"workspace_id"`
	Error       string    `json:"error"`
	Attempts    int       `json:"attempts"`
	FailedAt    time.Time `json:"failed_at"`
}

type Recorder struct {
	usage     store.UsageStore
	publisher broker.Publisher
	log       *zap.Logger
}

func New(usage store.UsageStore, publisher broker.Publisher, log *zap.Logger) *Recorder {
	return &Recorder{
		usage:     usage,
		publisher: publisher,
		log:       log,
	}
}

// Record is called exactly once per attempt, after the store transition
// succeeded. Sink failures are logged, never propagated: a job that already
// completed must not be failed retroactively because billing or the broker
// hiccuped.
func (r *Recorder) Record(ctx context.Context, job *models.Job, result models.JobResult) {
	switch result.Status {
	case state.StatusCompleted:
		r.recordUsage(ctx, job, result)
	case state.StatusFailed:
		r.publishCampaignHealth(job, result)
	case state.StatusScheduled:
		// Deferred or retrying; nothing to account yet.
	}

	r.log.Info("job outcome recorded",
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", job.Type.String()),
		zap.String("status", result.Status.String()),
		zap.Int("attempts", result.Attempts),
		zap.Duration("duration", result.Duration))
}

func (r *Recorder) recordUsage(ctx context.Context, job *models.Job, result models.JobResult) {
	metric, ok := usageMetrics[job.Type]
	if !ok {
		return
	}
	if err := r.usage.InsertUsageEvent(ctx, job.WorkspaceID, metric, 1, job.ID); err != nil {
		r.log.Error("failed to record usage event",
			zap.String("job_id", job.ID.String()),
			zap.String("metric", metric),
			zap.Error(err))
	}
}

// publishCampaignHealth fires the auto-pause trigger for campaign-related
// jobs. Threshold evaluation itself lives in the campaign-health subsystem.
func (r *Recorder) publishCampaignHealth(job *models.Job, result models.JobResult) {
	if job.Type != models.JobTypeSendEmail && job.Type != models.JobTypeProcessCampaign {
		return
	}

	event := CampaignHealthEvent{
		JobID:       job.ID.String(),
		JobType:     job.Type.String(),
		WorkspaceID: job.WorkspaceID.String(),
		Attempts:    result.Attempts,
		FailedAt:    time.Now().UTC(),
	}
	if result.Err != nil {
		event.Error = result.Err.Error()
	}

	body, err := json.Marshal(event)
	if err != nil {
		r.log.Error("failed to marshal campaign health event", zap.Error(err))
		return
	}

	if err := r.publisher.Publish(CampaignHealthRoutingKey, body); err != nil {
		r.log.Error("failed to publish campaign health event",
			zap.String("job_id", job.ID.String()),
			zap.Error(err))
	}
}
