// Package donations persists donation records and keeps the campaign
// aggregate in step with them.
package donations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"campaignfund/internal/blobstore"
	"campaignfund/internal/types"
)

// claimPrefix namespaces payment claims inside the donations store so they
// never collide with record keys, which start with a timestamp.
const claimPrefix = "payments/"

// recordKeyLayout is RFC 3339 with a fixed nine-digit fraction. RFC3339Nano
// trims trailing zeros, which breaks byte order ("...:00Z" > "...:00.1Z").
const recordKeyLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RecordKey is <UTC timestamp>_<paymentId>. Keys sort in time order.
func RecordKey(rec types.DonationRecord) string {
	return rec.Timestamp.UTC().Format(recordKeyLayout) + "_" + rec.PaymentID
}

// RecordStore writes donation records. Writes are last-write-wins; at most
// one record per payment id is guaranteed by the ledger's claims.
type RecordStore struct {
	store   blobstore.Store
	timeout time.Duration
}

func NewRecordStore(store blobstore.Store, timeout time.Duration) *RecordStore {
	return &RecordStore{store: store, timeout: timeout}
}

func (s *RecordStore) Put(ctx context.Context, key string, rec types.DonationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding donation record: %w", err)
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	meta := map[string]string{
		"paymentId": rec.PaymentID,
		"campaign":  rec.Campaign,
		"source":    rec.Source,
	}
	if _, err := s.store.Put(ctx, key, data, meta); err != nil {
		return storageError("put_record", err)
	}
	return nil
}

func (s *RecordStore) Get(ctx context.Context, key string) (*types.DonationRecord, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	blob, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, storageError("get_record", err)
	}

	var rec types.DonationRecord
	if err := json.Unmarshal(blob.Data, &rec); err != nil {
		return nil, fmt.Errorf("decoding donation record %s: %w", key, err)
	}
	return &rec, nil
}

// Keys lists record keys in ascending (chronological) order, skipping claims.
func (s *RecordStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	all, err := s.store.List(ctx, "")
	if err != nil {
		return nil, storageError("list_records", err)
	}

	keys := all[:0]
	for _, k := range all {
		if !strings.HasPrefix(k, claimPrefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// storageError maps a store failure to the 500-class AppError surfaced to
// callers. blobstore.ErrNotFound passes through unchanged.
func storageError(op string, err error) error {
	if errors.Is(err, blobstore.ErrNotFound) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewAppError(types.ErrCodeInternalTimeout, "storage operation timed out", err).
			WithDetails(map[string]any{"op": op})
	}
	return types.NewStorageError(op, err)
}
