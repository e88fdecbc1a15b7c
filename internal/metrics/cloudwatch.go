package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"campaignfund/internal/types"
)

// publishTimeout bounds a single PutMetricData call. Metrics are published
// even when the request context has already been cancelled.
const publishTimeout = 2 * time.Second

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ Recorder = (*CloudWatchRecorder)(nil)

// CloudWatchRecorder emits one datum per call. Failures are logged and
// never returned; telemetry must not fail a donation.
//
// Metrics emitted:
//   - WebhookVerification: Dims {Mode}
//   - WebhookOutcome: Dims {EventType, Outcome}
//   - DonationAmount: Dims {Campaign, Outcome=source}, value in INR
//   - AggregateConflict: Dims {Campaign}
//   - ReceiptPublishFailure: Dims {Campaign}
//   - ExternalAPIFailure: Dims {Provider}
//   - APILatency: Dims {Endpoint}, milliseconds
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	campaign  string
	logger    *slog.Logger
}

func NewCloudWatchRecorder(client CloudWatchClient, namespace, campaignID string, logger *slog.Logger) *CloudWatchRecorder {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{
		client:    client,
		namespace: namespace,
		campaign:  campaignID,
		logger:    logger,
	}
}

func (m *CloudWatchRecorder) WebhookVerification(ctx context.Context, mode string) {
	m.put(ctx, types.MetricWebhookVerification, 1, cwtypes.StandardUnitCount,
		dim(types.DimMode, mode))
}

func (m *CloudWatchRecorder) WebhookOutcome(ctx context.Context, event, outcome string) {
	m.put(ctx, types.MetricWebhookOutcome, 1, cwtypes.StandardUnitCount,
		dim(types.DimEventType, event), dim(types.DimOutcome, outcome))
}

func (m *CloudWatchRecorder) DonationRecorded(ctx context.Context, source string, amountINR float64) {
	m.put(ctx, types.MetricDonationAmount, amountINR, cwtypes.StandardUnitNone,
		dim(types.DimCampaign, m.campaign), dim(types.DimOutcome, source))
}

func (m *CloudWatchRecorder) AggregateConflict(ctx context.Context) {
	m.put(ctx, types.MetricAggregateConflict, 1, cwtypes.StandardUnitCount,
		dim(types.DimCampaign, m.campaign))
}

func (m *CloudWatchRecorder) ReceiptPublishFailed(ctx context.Context) {
	m.put(ctx, types.MetricReceiptPublishError, 1, cwtypes.StandardUnitCount,
		dim(types.DimCampaign, m.campaign))
}

func (m *CloudWatchRecorder) ExternalAPIFailure(ctx context.Context, provider string) {
	m.put(ctx, types.MetricExternalAPIFailure, 1, cwtypes.StandardUnitCount,
		dim(types.DimProvider, provider))
}

// RecordRequest is called by the HTTP metrics middleware after each request.
func (m *CloudWatchRecorder) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.put(context.Background(), types.MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds,
		dim(types.DimEndpoint, method+" "+endpoint), dim(types.DimOutcome, status))
}

func (m *CloudWatchRecorder) put(ctx context.Context, name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       unit,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to publish metric",
			"error", err.Error(),
			"metric", name,
		)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}
