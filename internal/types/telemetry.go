package types

// Telemetry metric names for CloudWatch.
const (
	MetricWebhookVerification = "WebhookVerification"
	MetricWebhookOutcome      = "WebhookOutcome"
	MetricDonationAmount      = "DonationAmount"
	MetricAggregateConflict   = "AggregateConflict"
	MetricAPILatency          = "APILatency"
	MetricExternalAPIFailure  = "ExternalAPIFailure"
	MetricReceiptPublishError = "ReceiptPublishFailure"

	DimMode      = "Mode"
	DimOutcome   = "Outcome"
	DimCampaign  = "Campaign"
	DimEndpoint  = "Endpoint"
	DimProvider  = "Provider"
	DimEventType = "EventType"

	MetricNamespace = "CampaignFund"
)

// Verification modes reported under DimMode.
const (
	VerificationModeVerified   = "verified"
	VerificationModeUnverified = "unverified"
	VerificationModeRejected   = "rejected"
)
