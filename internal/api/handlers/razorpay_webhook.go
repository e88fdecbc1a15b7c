package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"campaignfund/internal/campaign"
	"campaignfund/internal/core"
	"campaignfund/internal/donations"
	"campaignfund/internal/external"
	"campaignfund/internal/types"
)

const (
	signatureHeader = "X-Razorpay-Signature"

	defaultMaxWebhookBody = 64 << 10
)

// Webhook outcomes reported in the acknowledgement and the WebhookOutcome
// metric, in addition to the ledger's recorded/duplicate.
const (
	outcomeIgnoredEvent = "ignored_event"
	outcomeUnmatched    = "unmatched"
)

// DonationRecorder persists a classified payment. Implemented by
// donations.Ledger.
type DonationRecorder interface {
	Record(ctx context.Context, rec types.DonationRecord) (donations.Result, error)
}

// WebhookMetrics is the subset of metrics.Recorder the webhook reports to.
type WebhookMetrics interface {
	WebhookVerification(ctx context.Context, mode string)
	WebhookOutcome(ctx context.Context, event, outcome string)
}

// WebhookHandlerConfig carries the webhook handler's dependencies.
type WebhookHandlerConfig struct {
	Campaign   campaign.Campaign
	Classifier *campaign.Classifier
	Verifier   external.SignatureVerifier
	Recorder   DonationRecorder
	Metrics    WebhookMetrics
	Secret     types.SecretString

	// AllowUnverified accepts deliveries when no secret is configured.
	AllowUnverified bool
	MaxBodyBytes    int64

	Now    func() time.Time
	Logger *slog.Logger
}

// RazorpayWebhookHandler receives payment events from Razorpay. It is not
// authenticated; the X-Razorpay-Signature HMAC is the only proof of origin.
type RazorpayWebhookHandler struct {
	campaign        campaign.Campaign
	classifier      *campaign.Classifier
	verifier        external.SignatureVerifier
	recorder        DonationRecorder
	metrics         WebhookMetrics
	secret          types.SecretString
	allowUnverified bool
	maxBody         int64
	now             func() time.Time
	logger          *slog.Logger
}

func NewRazorpayWebhookHandler(cfg WebhookHandlerConfig) *RazorpayWebhookHandler {
	h := &RazorpayWebhookHandler{
		campaign:        cfg.Campaign,
		classifier:      cfg.Classifier,
		verifier:        cfg.Verifier,
		recorder:        cfg.Recorder,
		metrics:         cfg.Metrics,
		secret:          cfg.Secret,
		allowUnverified: cfg.AllowUnverified,
		maxBody:         cfg.MaxBodyBytes,
		now:             cfg.Now,
		logger:          cfg.Logger,
	}
	if h.classifier == nil {
		h.classifier = campaign.NewClassifier(cfg.Campaign)
	}
	if h.verifier == nil {
		h.verifier = external.RazorpayVerifier{}
	}
	if h.maxBody <= 0 {
		h.maxBody = defaultMaxWebhookBody
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

func (h *RazorpayWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/razorpay-webhook", h.Handle)
	r.Get("/razorpay-webhook", h.Status)
}

type webhookAck struct {
	Success   bool   `json:"success"`
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Outcome   string `json:"outcome"`
}

// Handle processes one delivery:
//  1. Read the raw body (bounded).
//  2. Verify the signature over the exact bytes received.
//  3. Parse the event.
//  4. For payment.captured and payment.authorized, classify the payment and
//     hand matched ones to the recorder.
//  5. Acknowledge with 200.
//
// Any verified, well-formed delivery is acknowledged, matched or not, so the
// gateway stops redelivering it. Storage failures return 500 so it retries.
func (h *RazorpayWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationBodyTooLarge, "request body too large", err))
			return
		}
		h.logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationEmptyBody, "failed to read request body", err))
		return
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		core.Error(w, r, types.NewValidationError(types.ErrCodeValidationEmptyBody, "Empty request body"))
		return
	}

	if !h.verify(w, r, payload) {
		return
	}

	var event razorpayEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.WarnContext(ctx, "failed to parse webhook payload", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "Invalid JSON payload", err))
		return
	}

	h.logger.InfoContext(ctx, "processing razorpay webhook",
		"event_type", event.Event,
		"payment_id", event.paymentID(),
	)

	outcome, err := h.route(ctx, &event)
	if err != nil {
		h.logger.ErrorContext(ctx, "webhook processing failed",
			"event_type", event.Event,
			"payment_id", event.paymentID(),
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.WebhookOutcome(ctx, event.Event, outcome)
	}

	core.JSON(w, r, http.StatusOK, webhookAck{
		Success:   true,
		Event:     event.Event,
		Timestamp: formatTimestamp(h.now()),
		Outcome:   outcome,
	})
}

// verify writes the error response itself and reports whether processing
// may continue.
func (h *RazorpayWebhookHandler) verify(w http.ResponseWriter, r *http.Request, payload []byte) bool {
	ctx := r.Context()

	switch h.verifier.Verify(payload, r.Header.Get(signatureHeader), h.secret) {
	case external.VerifyValid:
		h.recordVerification(ctx, types.VerificationModeVerified)
		return true

	case external.VerifyBypassed:
		if !h.allowUnverified {
			h.logger.ErrorContext(ctx, "webhook secret not configured and unverified mode is off")
			core.Error(w, r, types.NewConfigError("Webhook secret not configured"))
			return false
		}
		h.logger.WarnContext(ctx, "webhook signature verification bypassed")
		h.recordVerification(ctx, types.VerificationModeUnverified)
		return true

	default:
		h.logger.WarnContext(ctx, "invalid webhook signature",
			"signature_present", r.Header.Get(signatureHeader) != "",
		)
		h.recordVerification(ctx, types.VerificationModeRejected)
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSignatureInvalid, "Invalid signature", nil))
		return false
	}
}

func (h *RazorpayWebhookHandler) recordVerification(ctx context.Context, mode string) {
	if h.metrics != nil {
		h.metrics.WebhookVerification(ctx, mode)
	}
}

func (h *RazorpayWebhookHandler) route(ctx context.Context, event *razorpayEvent) (string, error) {
	switch event.Event {
	case external.EventPaymentCaptured, external.EventPaymentAuthorized:
		return h.handlePayment(ctx, event)

	case external.EventPaymentFailed:
		h.logger.WarnContext(ctx, "payment failed",
			"payment_id", event.paymentID(),
			"error_code", event.failureCode(),
		)
		return outcomeIgnoredEvent, nil

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event", "event_type", event.Event)
		return outcomeIgnoredEvent, nil
	}
}

func (h *RazorpayWebhookHandler) handlePayment(ctx context.Context, event *razorpayEvent) (string, error) {
	payment := event.payment()
	if payment == nil || payment.ID == "" {
		return "", types.NewValidationError(
			types.ErrCodeValidationMissingField,
			"payload.payment.entity is required",
		)
	}

	class := h.classifier.Classify(payment.Notes)
	if !class.Matched {
		h.logger.InfoContext(ctx, "payment not attributed to campaign",
			"payment_id", payment.ID,
			"reason", class.Reason,
		)
		return outcomeUnmatched, nil
	}

	rec := h.buildRecord(event.Event, payment, class.Source)
	res, err := h.recorder.Record(ctx, rec)
	if err != nil {
		return "", err
	}

	h.logger.InfoContext(ctx, "campaign donation processed",
		"payment_id", rec.PaymentID,
		"source", rec.Source,
		"amount", rec.Amount.String(),
		"outcome", string(res.Outcome),
	)
	return string(res.Outcome), nil
}

func (h *RazorpayWebhookHandler) buildRecord(eventType string, p *razorpayPayment, source string) types.DonationRecord {
	notes := p.Notes

	rec := types.DonationRecord{
		PaymentID:       p.ID,
		OrderID:         p.OrderID,
		Amount:          campaign.PaiseToINR(p.Amount),
		Currency:        p.Currency,
		DonorName:       firstNonEmpty(notes["donor_name"], p.Email, "Anonymous"),
		DonorEmail:      firstNonEmpty(notes["donor_email"], p.Email),
		DonorPhone:      firstNonEmpty(notes["donor_phone"], p.Contact),
		Method:          p.Method,
		Timestamp:       h.now().UTC(),
		Campaign:        h.campaign.ID,
		Source:          source,
		Event:           eventType,
		TrackingReceipt: notes["tracking_receipt"],
	}
	if rec.Currency == "" {
		rec.Currency = h.campaign.Currency
	}
	if p.Fee != nil {
		fee := campaign.PaiseToINR(*p.Fee)
		rec.Fee = &fee
	}
	return rec
}

// Status reports whether the endpoint can verify deliveries.
func (h *RazorpayWebhookHandler) Status(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, map[string]any{
		"message":   "Razorpay webhook endpoint is ready",
		"status":    "ready",
		"timestamp": formatTimestamp(h.now()),
		"campaign":  h.campaign.ID,
		"domain":    h.campaign.Domain,
		"environment": map[string]bool{
			"webhook_secret_configured": h.secret.IsSet(),
			"unverified_mode":           h.allowUnverified,
		},
		"supported_events": []string{
			external.EventPaymentCaptured,
			external.EventPaymentAuthorized,
			external.EventPaymentFailed,
		},
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Razorpay event parsing
// ---------------------------------------------------------------------------

// razorpayEvent holds the fields of a webhook delivery this service reads.
type razorpayEvent struct {
	Event     string `json:"event"`
	AccountID string `json:"account_id"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity *razorpayPayment `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

func (e *razorpayEvent) payment() *razorpayPayment {
	if e.Payload.Payment == nil {
		return nil
	}
	return e.Payload.Payment.Entity
}

func (e *razorpayEvent) paymentID() string {
	if p := e.payment(); p != nil {
		return p.ID
	}
	return ""
}

func (e *razorpayEvent) failureCode() string {
	if p := e.payment(); p != nil {
		return p.ErrorCode
	}
	return ""
}

type razorpayPayment struct {
	ID        string        `json:"id"`
	OrderID   string        `json:"order_id"`
	Amount    int64         `json:"amount"`
	Currency  string        `json:"currency"`
	Status    string        `json:"status"`
	Method    string        `json:"method"`
	Email     string        `json:"email"`
	Contact   string        `json:"contact"`
	Notes     razorpayNotes `json:"notes"`
	CreatedAt int64         `json:"created_at"`
	Fee       *int64        `json:"fee"`
	ErrorCode string        `json:"error_code"`
}

// razorpayNotes decodes the notes object. Razorpay sends an empty array
// when a payment has no notes, and values may be numbers or booleans.
type razorpayNotes map[string]string

func (n *razorpayNotes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		var discard []json.RawMessage
		if bytes.Equal(trimmed, []byte("null")) || json.Unmarshal(trimmed, &discard) == nil {
			*n = razorpayNotes{}
			return nil
		}
		return fmt.Errorf("notes: expected object, got %s", trimmed)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	out := make(razorpayNotes, len(raw))
	for k, v := range raw {
		out[k] = noteValue(v)
	}
	*n = out
	return nil
}

func noteValue(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var f json.Number
	if err := json.Unmarshal(v, &f); err == nil {
		return f.String()
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}
