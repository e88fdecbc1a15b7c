// Package queue publishes donation receipts to SQS for downstream consumers
// (acknowledgement mail, accounting export).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"campaignfund/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// ReceiptMessage is the body of a receipt message. Amount is a decimal
// string in major units so consumers never see float rounding.
type ReceiptMessage struct {
	MessageID       string    `json:"message_id"`
	PaymentID       string    `json:"payment_id"`
	OrderID         string    `json:"order_id"`
	Amount          string    `json:"amount"`
	Currency        string    `json:"currency"`
	DonorName       string    `json:"donor_name"`
	DonorEmail      string    `json:"donor_email,omitempty"`
	DonorPhone      string    `json:"donor_phone,omitempty"`
	Campaign        string    `json:"campaign"`
	Source          string    `json:"source"`
	Event           string    `json:"event"`
	TrackingReceipt string    `json:"tracking_receipt,omitempty"`
	DonatedAt       time.Time `json:"donated_at"`
	PublishedAt     time.Time `json:"published_at"`
}

// ReceiptPublisher sends one message per counted donation.
type ReceiptPublisher struct {
	client   SQSSender
	queueURL string
	fifo     bool
	now      func() time.Time
	logger   *slog.Logger
}

func NewReceiptPublisher(client SQSSender, queueURL string, logger *slog.Logger) *ReceiptPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReceiptPublisher{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
		now:      time.Now,
		logger:   logger,
	}
}

// PublishReceipt serializes rec and sends it. On FIFO queues the payment id
// is the deduplication id, so a retried publish is dropped by SQS.
func (p *ReceiptPublisher) PublishReceipt(ctx context.Context, rec types.DonationRecord) error {
	msg := ReceiptMessage{
		MessageID:       uuid.New().String(),
		PaymentID:       rec.PaymentID,
		OrderID:         rec.OrderID,
		Amount:          rec.Amount.StringFixed(2),
		Currency:        rec.Currency,
		DonorName:       rec.DonorName,
		DonorEmail:      rec.DonorEmail,
		DonorPhone:      rec.DonorPhone,
		Campaign:        rec.Campaign,
		Source:          rec.Source,
		Event:           rec.Event,
		TrackingReceipt: rec.TrackingReceipt,
		DonatedAt:       rec.Timestamp.UTC(),
		PublishedAt:     p.now().UTC(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal receipt: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"campaign":   stringAttr(rec.Campaign),
			"source":     stringAttr(rec.Source),
			"event_type": stringAttr(rec.Event),
		},
	}
	if p.fifo {
		input.MessageGroupId = aws.String(rec.Campaign)
		input.MessageDeduplicationId = aws.String(rec.PaymentID)
	}

	out, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("queue: failed to send receipt to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "donation receipt published",
		"payment_id", rec.PaymentID,
		"message_id", msg.MessageID,
		"sqs_message_id", aws.ToString(out.MessageId),
	)
	return nil
}

// stringAttr substitutes "unknown" for empty values, which SQS rejects.
func stringAttr(v string) sqsTypes.MessageAttributeValue {
	if v == "" {
		v = "unknown"
	}
	return sqsTypes.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}
