package donations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"campaignfund/internal/blobstore"
	"campaignfund/internal/types"
)

// Outcome describes what Record did with a donation.
type Outcome string

const (
	OutcomeRecorded  Outcome = "recorded"
	OutcomeDuplicate Outcome = "duplicate"
)

// ReceiptPublisher is notified after a donation has been counted.
type ReceiptPublisher interface {
	PublishReceipt(ctx context.Context, rec types.DonationRecord) error
}

// Observer receives ledger telemetry.
type Observer interface {
	DonationRecorded(ctx context.Context, source string, amountINR float64)
	ReceiptPublishFailed(ctx context.Context)
}

// Result is returned by Ledger.Record.
type Result struct {
	Outcome   Outcome
	RecordKey string
	Stats     types.CampaignStats
}

// Ledger runs the persist-then-aggregate sequence for one verified,
// classified payment. A payment id is claimed before anything is written so
// that redeliveries, and the authorized/captured pair for the same payment,
// are counted once.
//
// Claim lifecycle: pending -> counted, or pending -> released on failure.
// A released claim, or a pending one older than the lease, may be taken over
// by a later delivery; the takeover reuses the original record key.
type Ledger struct {
	claims     blobstore.Store
	records    *RecordStore
	aggregates *AggregateStore
	lease      time.Duration
	timeout    time.Duration
	publisher  ReceiptPublisher
	observer   Observer
	now        func() time.Time
	logger     *slog.Logger
	statsGroup singleflight.Group
}

// LedgerConfig carries the ledger's collaborators.
type LedgerConfig struct {
	Donations  blobstore.Store
	Records    *RecordStore
	Aggregates *AggregateStore
	ClaimLease time.Duration
	Timeout    time.Duration
	Publisher  ReceiptPublisher
	Observer   Observer
	Now        func() time.Time
	Logger     *slog.Logger
}

func NewLedger(cfg LedgerConfig) *Ledger {
	l := &Ledger{
		claims:     cfg.Donations,
		records:    cfg.Records,
		aggregates: cfg.Aggregates,
		lease:      cfg.ClaimLease,
		timeout:    cfg.Timeout,
		publisher:  cfg.Publisher,
		observer:   cfg.Observer,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.lease <= 0 {
		l.lease = 30 * time.Second
	}
	return l
}

type claimHandle struct {
	key     string
	version int64
	claim   types.PaymentClaim
}

// Record persists rec and updates the aggregate. On any storage failure the
// claim is released and the error returned, so the gateway's redelivery can
// try again from a clean state.
func (l *Ledger) Record(ctx context.Context, rec types.DonationRecord) (Result, error) {
	if rec.Amount.IsNegative() {
		return Result{}, types.NewValidationError(types.ErrCodeValidationAmount, "amount must not be negative")
	}

	handle, dup, err := l.acquire(ctx, rec)
	if err != nil {
		return Result{}, err
	}
	if dup {
		l.logger.InfoContext(ctx, "duplicate payment ignored",
			"payment_id", rec.PaymentID,
			"event_type", rec.Event,
		)
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	recordKey := handle.claim.RecordKey
	if err := l.records.Put(ctx, recordKey, rec); err != nil {
		l.release(ctx, handle)
		return Result{}, err
	}

	stats, err := l.aggregates.Increment(ctx, rec)
	if err != nil {
		l.release(ctx, handle)
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictConcurrent {
			return Result{}, types.NewStorageError("increment_aggregate", err)
		}
		return Result{}, err
	}

	if err := l.markCounted(ctx, handle); err != nil {
		// The aggregate already includes this payment. If the claim stays
		// pending past its lease a redelivery could count it again.
		l.logger.ErrorContext(ctx, "failed to mark payment counted",
			"payment_id", rec.PaymentID,
			"record_key", recordKey,
			"error", err,
		)
	}

	if l.observer != nil {
		l.observer.DonationRecorded(ctx, rec.Source, rec.Amount.InexactFloat64())
	}
	l.publish(ctx, rec)

	return Result{Outcome: OutcomeRecorded, RecordKey: recordKey, Stats: stats}, nil
}

// acquire claims rec.PaymentID. It reports dup=true when another delivery
// has already counted the payment or holds a live claim on it.
func (l *Ledger) acquire(ctx context.Context, rec types.DonationRecord) (claimHandle, bool, error) {
	key := claimPrefix + rec.PaymentID
	now := l.now().UTC()

	fresh := types.PaymentClaim{
		PaymentID: rec.PaymentID,
		RecordKey: RecordKey(rec),
		State:     types.ClaimPending,
		ClaimedAt: now,
		Attempt:   1,
	}

	version, err := l.putClaim(ctx, key, fresh, 0)
	if err == nil {
		return claimHandle{key: key, version: version, claim: fresh}, false, nil
	}
	if !errors.Is(err, blobstore.ErrConflict) {
		return claimHandle{}, false, storageError("create_claim", err)
	}

	existing, existingVersion, err := l.getClaim(ctx, key)
	if err != nil {
		return claimHandle{}, false, storageError("get_claim", err)
	}

	switch {
	case existing.State == types.ClaimCounted:
		return claimHandle{}, true, nil
	case existing.State == types.ClaimPending && now.Sub(existing.ClaimedAt) < l.lease:
		return claimHandle{}, true, nil
	}

	takeover := existing
	takeover.State = types.ClaimPending
	takeover.ClaimedAt = now
	takeover.Attempt++
	if takeover.RecordKey == "" {
		takeover.RecordKey = fresh.RecordKey
	}

	version, err = l.putClaim(ctx, key, takeover, existingVersion)
	if errors.Is(err, blobstore.ErrConflict) {
		// Another delivery took it over first.
		return claimHandle{}, true, nil
	}
	if err != nil {
		return claimHandle{}, false, storageError("takeover_claim", err)
	}

	l.logger.InfoContext(ctx, "payment claim taken over",
		"payment_id", rec.PaymentID,
		"previous_state", string(existing.State),
		"attempt", takeover.Attempt,
	)
	return claimHandle{key: key, version: version, claim: takeover}, false, nil
}

func (l *Ledger) release(ctx context.Context, h claimHandle) {
	released := h.claim
	released.State = types.ClaimReleased

	// The request context may be the reason we are releasing.
	ctx = context.WithoutCancel(ctx)
	if _, err := l.putClaim(ctx, h.key, released, h.version); err != nil {
		l.logger.WarnContext(ctx, "failed to release payment claim",
			"payment_id", h.claim.PaymentID,
			"error", err,
		)
	}
}

func (l *Ledger) markCounted(ctx context.Context, h claimHandle) error {
	counted := h.claim
	counted.State = types.ClaimCounted
	_, err := l.putClaim(context.WithoutCancel(ctx), h.key, counted, h.version)
	return err
}

func (l *Ledger) putClaim(ctx context.Context, key string, c types.PaymentClaim, expected int64) (int64, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return 0, fmt.Errorf("encoding payment claim: %w", err)
	}

	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	return l.claims.PutIf(ctx, key, data, map[string]string{"state": string(c.State)}, expected)
}

func (l *Ledger) getClaim(ctx context.Context, key string) (types.PaymentClaim, int64, error) {
	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	blob, err := l.claims.Get(ctx, key)
	if err != nil {
		return types.PaymentClaim{}, 0, err
	}

	var c types.PaymentClaim
	if err := json.Unmarshal(blob.Data, &c); err != nil {
		return types.PaymentClaim{}, 0, fmt.Errorf("decoding payment claim %s: %w", key, err)
	}
	return c, blob.Version, nil
}

func (l *Ledger) publish(ctx context.Context, rec types.DonationRecord) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.PublishReceipt(ctx, rec); err != nil {
		l.logger.WarnContext(ctx, "failed to publish donation receipt",
			"payment_id", rec.PaymentID,
			"error", err,
		)
		if l.observer != nil {
			l.observer.ReceiptPublishFailed(ctx)
		}
	}
}

// Stats returns the current aggregate, lazily creating it. Concurrent
// callers share one store read, which is detached from the first caller's
// cancellation and bounded by the store timeout instead.
func (l *Ledger) Stats(ctx context.Context) types.CampaignStats {
	v, _, _ := l.statsGroup.Do("stats", func() (any, error) {
		readCtx, cancel := withTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()
		return l.aggregates.ReadOrInit(readCtx), nil
	})
	return v.(types.CampaignStats)
}
