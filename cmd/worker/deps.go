package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/outreachiq/jobengine/internal/handlers"
	"github.com/outreachiq/jobengine/internal/models"
)

// buildDeps wires the reference collaborators. They log the action and
// succeed, which exercises the whole pipeline end to end; deployments
// replace them with real provider clients behind the same interfaces.
func buildDeps(log *zap.Logger) handlers.Deps {
	return handlers.Deps{
		Mailer:    &logMailer{log: log},
		Verifier:  &logVerifier{log: log},
		Warmup:    &logWarmup{log: log},
		Campaigns: &logCampaigns{log: log},
		Analytics: &logAnalytics{log: log},
	}
}

type logMailer struct{ log *zap.Logger }

func (m *logMailer) Send(ctx context.Context, p models.SendEmailPayload) error {
	m.log.Info("sending email",
		zap.String("campaign_id", p.CampaignID.String()),
		zap.String("to", p.ToEmail),
		zap.String("subject", p.Subject))
	return nil
}

type logVerifier struct{ log *zap.Logger }

func (v *logVerifier) Verify(ctx context.Context, p models.VerifyEmailPayload) error {
	v.log.Info("verifying email", zap.String("email", p.Email))
	return nil
}

type logWarmup struct{ log *zap.Logger }

func (w *logWarmup) SendWarmup(ctx context.Context, p models.WarmupEmailPayload) error {
	w.log.Info("sending warmup email",
		zap.String("email_account_id", p.EmailAccountID.String()),
		zap.String("target", p.TargetEmail))
	return nil
}

type logCampaigns struct{ log *zap.Logger }

func (c *logCampaigns) Process(ctx context.Context, p models.ProcessCampaignPayload) error {
	c.log.Info("processing campaign", zap.String("campaign_id", p.CampaignID.String()))
	return nil
}

type logAnalytics struct{ log *zap.Logger }

func (a *logAnalytics) Refresh(ctx context.Context, p models.UpdateAnalyticsPayload) error {
	a.log.Info("refreshing analytics", zap.String("workspace_id", p.WorkspaceID.String()))
	return nil
}
