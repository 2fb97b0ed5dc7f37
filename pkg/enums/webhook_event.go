package enums

// WebhookSource names the system that delivered a webhook.
type WebhookSource string

const WebhookSourceGateway WebhookSource = "gateway"

// WebhookProcessingStatus tracks reconciliation progress of a stored webhook.
type WebhookProcessingStatus string

const (
	WebhookStatusPending   WebhookProcessingStatus = "pending"
	WebhookStatusProcessed WebhookProcessingStatus = "processed"
	WebhookStatusFailed    WebhookProcessingStatus = "failed"
)

var validWebhookProcessingStatuses = []WebhookProcessingStatus{
	WebhookStatusPending,
	WebhookStatusProcessed,
	WebhookStatusFailed,
}

// IsValid reports whether the value is a known WebhookProcessingStatus.
func (s WebhookProcessingStatus) IsValid() bool {
	return member(validWebhookProcessingStatuses, s)
}

// ParseWebhookProcessingStatus converts raw input into a WebhookProcessingStatus.
func ParseWebhookProcessingStatus(value string) (WebhookProcessingStatus, error) {
	return parse(validWebhookProcessingStatuses, "webhook processing status", value)
}
