package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"campaignfund/internal/types"
)

const razorpayAPIBase = "https://api.razorpay.com"

// ErrGatewayNotConfigured is returned by CreateOrder when the key id or key
// secret is missing.
var ErrGatewayNotConfigured = errors.New("payment gateway not configured")

// OrderRequest is the body of POST /v1/orders. Amount is in paise.
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Order is the subset of the Razorpay order entity the checkout needs.
type Order struct {
	ID         string            `json:"id"`
	Entity     string            `json:"entity"`
	Amount     int64             `json:"amount"`
	AmountPaid int64             `json:"amount_paid"`
	AmountDue  int64             `json:"amount_due"`
	Currency   string            `json:"currency"`
	Receipt    string            `json:"receipt"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	Notes      map[string]string `json:"notes"`
	CreatedAt  int64             `json:"created_at"`
}

// RazorpayClientConfig holds the configuration for creating a RazorpayClient.
type RazorpayClientConfig struct {
	KeyID     string
	KeySecret types.SecretString
	BaseURL   string // defaults to razorpayAPIBase
	Logger    *slog.Logger
}

// RazorpayClient calls the Razorpay Orders API with HTTP basic auth.
type RazorpayClient struct {
	base      *BaseClient
	keyID     string
	keySecret types.SecretString
	baseURL   string
	logger    *slog.Logger
}

func NewRazorpayClient(httpClient *http.Client, cfg RazorpayClientConfig, opts ...BaseClientOption) *RazorpayClient {
	base := NewBaseClient(
		httpClient,
		"razorpay",
		DefaultRetryPolicy(),
		"campaignfund/1.0",
		opts...,
	)
	return NewRazorpayClientWithBase(base, cfg)
}

// NewRazorpayClientWithBase creates a RazorpayClient over a pre-configured
// BaseClient.
func NewRazorpayClientWithBase(base *BaseClient, cfg RazorpayClientConfig) *RazorpayClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = razorpayAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RazorpayClient{
		base:      base,
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// KeyID is the public key id echoed to the checkout widget.
func (c *RazorpayClient) KeyID() string {
	return c.keyID
}

// Configured reports whether both credentials are present.
func (c *RazorpayClient) Configured() bool {
	return c.keyID != "" && c.keySecret.IsSet()
}

// CreateOrder creates a Razorpay order. Any non-2xx answer is reported as
// upstream_razorpay_unavailable; the response body is logged, not returned.
func (c *RazorpayClient) CreateOrder(ctx context.Context, in OrderRequest) (*Order, error) {
	if !c.Configured() {
		return nil, ErrGatewayNotConfigured
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding order request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, c.wrapError("CreateOrder", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.handleErrorResponse(ctx, resp, "CreateOrder")
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamRazorpay,
			"failed to decode Razorpay order response",
			err,
		)
	}
	return &order, nil
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Field       string `json:"field"`
		Reason      string `json:"reason"`
	} `json:"error"`
}

func (c *RazorpayClient) handleErrorResponse(ctx context.Context, resp *http.Response, operation string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var rzpErr razorpayErrorResponse
	_ = json.Unmarshal(raw, &rzpErr)

	c.logger.ErrorContext(ctx, "razorpay api error",
		"operation", operation,
		"status", resp.StatusCode,
		"razorpay_code", rzpErr.Error.Code,
		"description", rzpErr.Error.Description,
	)

	return types.NewAppError(
		types.ErrCodeUpstreamRazorpay,
		fmt.Sprintf("%s: Razorpay returned status %d", operation, resp.StatusCode),
		nil,
	).WithDetails(map[string]any{
		"status":        resp.StatusCode,
		"razorpay_code": rzpErr.Error.Code,
	})
}

// wrapError keeps AppErrors from BaseClient and tags anything else as a
// Razorpay failure.
func (c *RazorpayClient) wrapError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamRazorpay,
		fmt.Sprintf("%s: Razorpay request failed", operation),
		err,
	)
}
