package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"campaignfund/internal/campaign"
	"campaignfund/internal/core"
	"campaignfund/internal/external"
	"campaignfund/internal/types"
)

// ExternalFailureRecorder is told when the gateway call fails.
type ExternalFailureRecorder interface {
	ExternalAPIFailure(ctx context.Context, provider string)
}

// CreateOrderRequest is the checkout form. Amount is validated separately
// because its minimum comes from the campaign.
type CreateOrderRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"-"`
	Name   string          `json:"name" validate:"notblank,max=100"`
	Email  string          `json:"email" validate:"omitempty,email,max=254"`
	Phone  string          `json:"phone" validate:"omitempty,max=20"`
}

type orderSummary struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type campaignInfo struct {
	Name      string `json:"name"`
	Organizer string `json:"organizer"`
	Domain    string `json:"domain"`
}

// CreateOrderResponse is everything the checkout widget needs to open.
type CreateOrderResponse struct {
	Success       bool         `json:"success"`
	Order         orderSummary `json:"order"`
	RazorpayKeyID string       `json:"razorpay_key_id"`
	CampaignInfo  campaignInfo `json:"campaign_info"`
}

// OrderHandler creates Razorpay orders tagged with the campaign's notes so
// that the resulting payment is attributed when its webhook arrives.
type OrderHandler struct {
	campaign  campaign.Campaign
	gateway   external.OrderCreator
	validator *core.Validator
	failures  ExternalFailureRecorder
	now       func() time.Time
	logger    *slog.Logger
}

func NewOrderHandler(
	c campaign.Campaign,
	gateway external.OrderCreator,
	validator *core.Validator,
	failures ExternalFailureRecorder,
	logger *slog.Logger,
) *OrderHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderHandler{
		campaign:  c,
		gateway:   gateway,
		validator: validator,
		failures:  failures,
		now:       time.Now,
		logger:    logger,
	}
}

func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/create-order", h.Create)
	r.Get("/create-order", h.Status)
}

// Create handles POST /create-order.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateOrderRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)

	if req.Amount.LessThan(h.campaign.Minimum) {
		core.Error(w, r, types.NewValidationError(
			types.ErrCodeValidationAmount,
			"Amount must be at least ₹"+h.campaign.Minimum.String(),
		))
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if !h.gateway.Configured() {
		h.logger.ErrorContext(ctx, "razorpay credentials not configured")
		core.Error(w, r, types.NewConfigError("Payment gateway not configured"))
		return
	}

	receipt := h.campaign.ReceiptPrefix + strconv.FormatInt(h.now().UnixMilli(), 10)
	orderReq := external.OrderRequest{
		Amount:   campaign.INRToPaise(req.Amount),
		Currency: h.campaign.Currency,
		Receipt:  receipt,
		Notes: map[string]string{
			"campaign":         h.campaign.ID,
			"source":           campaign.SourceSubdomainCheckout,
			"subdomain":        h.campaign.Domain,
			"donor_name":       req.Name,
			"donor_email":      req.Email,
			"donor_phone":      req.Phone,
			"tracking_receipt": receipt,
		},
	}

	order, err := h.gateway.CreateOrder(ctx, orderReq)
	if err != nil {
		if errors.Is(err, external.ErrGatewayNotConfigured) {
			core.Error(w, r, types.NewConfigError("Payment gateway not configured"))
			return
		}
		h.logger.ErrorContext(ctx, "failed to create razorpay order",
			"receipt", receipt,
			"amount_paise", orderReq.Amount,
			"error", err,
		)
		if h.failures != nil {
			h.failures.ExternalAPIFailure(ctx, "razorpay")
		}
		core.ErrorWithStatus(w, r, http.StatusInternalServerError,
			types.ErrCodeUpstreamRazorpay, "Failed to create payment order")
		return
	}

	h.logger.InfoContext(ctx, "razorpay order created",
		"order_id", order.ID,
		"receipt", order.Receipt,
		"amount_paise", order.Amount,
	)

	core.JSON(w, r, http.StatusOK, CreateOrderResponse{
		Success: true,
		Order: orderSummary{
			ID:       order.ID,
			Amount:   order.Amount,
			Currency: order.Currency,
			Receipt:  order.Receipt,
		},
		RazorpayKeyID: h.gateway.KeyID(),
		CampaignInfo: campaignInfo{
			Name:      h.campaign.Name,
			Organizer: h.campaign.Organizer,
			Domain:    h.campaign.Domain,
		},
	})
}

// Status handles GET /create-order. It exposes whether credentials are
// present, never their values.
func (h *OrderHandler) Status(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, map[string]any{
		"message":   "Create order endpoint is running",
		"timestamp": formatTimestamp(h.now()),
		"campaign":  h.campaign.ID,
		"domain":    h.campaign.Domain,
		"environment": map[string]bool{
			"razorpay_key_configured":     h.gateway.KeyID() != "",
			"razorpay_gateway_configured": h.gateway.Configured(),
		},
	})
}
