package donations

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"campaignfund/internal/blobstore"
	"campaignfund/internal/campaign"
	"campaignfund/internal/types"
)

var testNow = time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

func testCampaign() campaign.Campaign {
	return campaign.Campaign{
		ID:            "youtuber_rebuild_punjab",
		Domain:        "rebuildpunjab.sikhaidindia.com",
		ReceiptPrefix: "ytcampaign_",
		Target:        decimal.NewFromInt(1500000),
		Minimum:       decimal.NewFromInt(10),
		Currency:      "INR",
	}
}

func testRecord(paymentID string, amount string) types.DonationRecord {
	return types.DonationRecord{
		PaymentID: paymentID,
		OrderID:   "order_" + paymentID,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "INR",
		DonorName: "Anonymous",
		Timestamp: testNow,
		Campaign:  "youtuber_rebuild_punjab",
		Source:    campaign.TagSubdomainCheckout,
		Event:     "payment.captured",
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

// faultyStore wraps a Store and injects errors for keys with a given prefix.
type faultyStore struct {
	blobstore.Store

	mu          sync.Mutex
	getErr      map[string]error
	putErr      map[string]error
	putIfErr    map[string]error
	putIfCalls  int

	// lostAck makes the next PutIf on a matching key apply the write and
	// then report an error, as a timeout after a committed write would.
	lostAck map[string]error
}

func newFaultyStore(inner blobstore.Store) *faultyStore {
	return &faultyStore{
		Store:    inner,
		getErr:   map[string]error{},
		putErr:   map[string]error{},
		putIfErr: map[string]error{},
		lostAck:  map[string]error{},
	}
}

func (f *faultyStore) match(m map[string]error, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for prefix, err := range m {
		if strings.HasPrefix(key, prefix) {
			return err
		}
	}
	return nil
}

func (f *faultyStore) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr = map[string]error{}
	f.putErr = map[string]error{}
	f.putIfErr = map[string]error{}
	f.lostAck = map[string]error{}
}

func (f *faultyStore) Get(ctx context.Context, key string) (*blobstore.Blob, error) {
	if err := f.match(f.getErr, key); err != nil {
		return nil, err
	}
	return f.Store.Get(ctx, key)
}

func (f *faultyStore) Put(ctx context.Context, key string, data []byte, meta map[string]string) (int64, error) {
	if err := f.match(f.putErr, key); err != nil {
		return 0, err
	}
	return f.Store.Put(ctx, key, data, meta)
}

func (f *faultyStore) PutIf(ctx context.Context, key string, data []byte, meta map[string]string, expected int64) (int64, error) {
	f.mu.Lock()
	f.putIfCalls++
	f.mu.Unlock()
	if err := f.match(f.putIfErr, key); err != nil {
		return 0, err
	}
	if ackErr := f.takeLostAck(key); ackErr != nil {
		if _, err := f.Store.PutIf(ctx, key, data, meta, expected); err != nil {
			return 0, err
		}
		return 0, ackErr
	}
	return f.Store.PutIf(ctx, key, data, meta, expected)
}

func (f *faultyStore) takeLostAck(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for prefix, err := range f.lostAck {
		if strings.HasPrefix(key, prefix) {
			delete(f.lostAck, prefix)
			return err
		}
	}
	return nil
}

type recordingObserver struct {
	mu             sync.Mutex
	conflicts      int
	donations      []float64
	receiptFailure int
}

func (o *recordingObserver) AggregateConflict(context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conflicts++
}

func (o *recordingObserver) DonationRecorded(_ context.Context, _ string, amount float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.donations = append(o.donations, amount)
}

func (o *recordingObserver) ReceiptPublishFailed(context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.receiptFailure++
}
