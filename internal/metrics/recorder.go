// Package metrics publishes webhook, donation and request telemetry.
package metrics

import (
	"context"
	"time"
)

// Recorder is the full set of signals the service emits.
type Recorder interface {
	// WebhookVerification records how a delivery's signature was handled:
	// verified, unverified (bypass mode) or rejected.
	WebhookVerification(ctx context.Context, mode string)
	WebhookOutcome(ctx context.Context, event, outcome string)
	DonationRecorded(ctx context.Context, source string, amountINR float64)
	AggregateConflict(ctx context.Context)
	ReceiptPublishFailed(ctx context.Context)
	ExternalAPIFailure(ctx context.Context, provider string)
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Noop discards everything. Used when METRICS_ENABLED=false and in tests.
type Noop struct{}

var _ Recorder = Noop{}

func (Noop) WebhookVerification(context.Context, string)                {}
func (Noop) WebhookOutcome(context.Context, string, string)             {}
func (Noop) DonationRecorded(context.Context, string, float64)          {}
func (Noop) AggregateConflict(context.Context)                          {}
func (Noop) ReceiptPublishFailed(context.Context)                       {}
func (Noop) ExternalAPIFailure(context.Context, string)                 {}
func (Noop) RecordRequest(string, string, string, time.Duration)        {}
