package models

import "github.com/google/uuid"

// SendEmailPayload carries one campaign email through the queue. The inbox
// (email account) doubles as the rate-limiting resource key.
type SendEmailPayload struct {
	CampaignID     uuid.UUID `json:"campaign_id"`
	LeadID         uuid.UUID `json:"lead_id"`
	EmailAccountID uuid.UUID `json:"email_account_id"`
	ToEmail        string    `json:"to_email"`
	ToName         *string   `json:"to_name,omitempty"`
	Subject        string    `json:"subject"`
	BodyHTML       string    `json:"body_html"`
}

type VerifyEmailPayload struct {
	LeadID uuid.UUID `json:"lead_id"`
	Email  string    `json:"email"`
}

type WarmupEmailPayload struct {
	EmailAccountID uuid.UUID `json:"email_account_id"`
	TargetEmail    string    `json:"target_email"`
}

type ProcessCampaignPayload struct {
	CampaignID uuid.UUID `json:"campaign_id"`
}

type UpdateAnalyticsPayload struct {
	WorkspaceID uuid.UUID `json:"workspace_id"`
}
