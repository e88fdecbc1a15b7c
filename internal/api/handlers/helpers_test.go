package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"campaignfund/internal/blobstore"
	"campaignfund/internal/campaign"
	"campaignfund/internal/config"
	"campaignfund/internal/core"
	"campaignfund/internal/donations"
	"campaignfund/internal/external"
	"campaignfund/internal/types"
)

var testNow = time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

const testSecret = types.SecretString("whsec_test")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCampaign() campaign.Campaign {
	return campaign.Campaign{
		ID:            "youtuber_rebuild_punjab",
		Name:          "Rebuild Punjab - Emergency Relief Fund",
		Organizer:     "SikhAid India",
		Domain:        "rebuildpunjab.sikhaidindia.com",
		ReceiptPrefix: "ytcampaign_",
		Target:        decimal.NewFromInt(1500000),
		Minimum:       decimal.NewFromInt(10),
		Currency:      "INR",
	}
}

// newTestServer mounts registrars behind the full middleware chain.
func newTestServer(t *testing.T, registrars ...core.RouteRegistrar) *core.Server {
	t.Helper()
	cfg := &config.Config{Environment: "local"}
	cfg.Server.RequestTimeout = 5 * time.Second
	cfg.Security.CorsAllowedOrigins = []string{"*"}

	srv, err := core.NewServer(cfg, testLogger())
	require.NoError(t, err)
	srv.RouteRegistrars = registrars
	srv.MountRoutes()
	return srv
}

func serve(srv *core.Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return body
}

// ledgerFixture is a real ledger over the in-memory backend.
type ledgerFixture struct {
	ledger  *donations.Ledger
	records *donations.RecordStore
	store   blobstore.Store
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	backend := blobstore.NewMemoryBackend()
	donationsStore := backend.Namespace("campaign-donations")
	records := donations.NewRecordStore(donationsStore, time.Second)
	aggregates := donations.NewAggregateStore(
		backend.Namespace("campaign-stats"),
		testCampaign(),
		time.Second,
		32,
		testLogger(),
		donations.WithBackoff(time.Millisecond, 2*time.Millisecond),
		donations.WithClock(func() time.Time { return testNow }),
	)
	return &ledgerFixture{
		ledger: donations.NewLedger(donations.LedgerConfig{
			Donations:  donationsStore,
			Records:    records,
			Aggregates: aggregates,
			ClaimLease: 30 * time.Second,
			Timeout:    time.Second,
			Logger:     testLogger(),
		}),
		records: records,
		store:   donationsStore,
	}
}

type recordingMetrics struct {
	mu            sync.Mutex
	verifications []string
	outcomes      []string
	failures      []string
}

func (m *recordingMetrics) WebhookVerification(_ context.Context, mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications = append(m.verifications, mode)
}

func (m *recordingMetrics) WebhookOutcome(_ context.Context, event, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, event+":"+outcome)
}

func (m *recordingMetrics) ExternalAPIFailure(_ context.Context, provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, provider)
}

// fakeGateway implements external.OrderCreator.
type fakeGateway struct {
	keyID      string
	configured bool
	err        error
	requests   []external.OrderRequest
}

func (g *fakeGateway) CreateOrder(_ context.Context, in external.OrderRequest) (*external.Order, error) {
	g.requests = append(g.requests, in)
	if g.err != nil {
		return nil, g.err
	}
	return &external.Order{
		ID:       "order_test123",
		Entity:   "order",
		Amount:   in.Amount,
		Currency: in.Currency,
		Receipt:  in.Receipt,
		Status:   "created",
		Notes:    in.Notes,
	}, nil
}

func (g *fakeGateway) KeyID() string    { return g.keyID }
func (g *fakeGateway) Configured() bool { return g.configured }

// paymentEvent builds a webhook body for a single payment.
func paymentEvent(event, paymentID string, amountPaise int64, notes any) []byte {
	entity := map[string]any{
		"id":         paymentID,
		"entity":     "payment",
		"order_id":   "order_" + paymentID,
		"amount":     amountPaise,
		"currency":   "INR",
		"status":     "captured",
		"method":     "upi",
		"email":      "donor@example.com",
		"contact":    "+919999999999",
		"notes":      notes,
		"created_at": testNow.Unix(),
	}
	body, _ := json.Marshal(map[string]any{
		"entity":     "event",
		"account_id": "acc_test",
		"event":      event,
		"contains":   []string{"payment"},
		"payload":    map[string]any{"payment": map[string]any{"entity": entity}},
		"created_at": testNow.Unix(),
	})
	return body
}

func campaignNotes() map[string]string {
	return map[string]string{
		"campaign":         "youtuber_rebuild_punjab",
		"donor_name":       "Harpreet Kaur",
		"tracking_receipt": "ytcampaign_1756720800000",
	}
}

func signedRequest(body []byte, secret types.SecretString) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/razorpay-webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret.IsSet() {
		req.Header.Set(signatureHeader, external.SignHex(body, secret))
	}
	return req
}
