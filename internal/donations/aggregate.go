package donations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"campaignfund/internal/blobstore"
	"campaignfund/internal/campaign"
	"campaignfund/internal/types"
)

// ConflictObserver is notified each time a commit loses a race.
type ConflictObserver interface {
	AggregateConflict(ctx context.Context)
}

// AggregateOption configures an AggregateStore.
type AggregateOption func(*AggregateStore)

// WithBackoff overrides the retry delays.
func WithBackoff(base, max time.Duration) AggregateOption {
	return func(s *AggregateStore) {
		s.baseDelay = base
		s.maxDelay = max
	}
}

// WithSleepFunc replaces the context-aware sleep used between retries.
func WithSleepFunc(fn func(ctx context.Context, d time.Duration) error) AggregateOption {
	return func(s *AggregateStore) {
		s.sleep = fn
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) AggregateOption {
	return func(s *AggregateStore) {
		s.now = now
	}
}

// WithConflictObserver reports lost races to o.
func WithConflictObserver(o ConflictObserver) AggregateOption {
	return func(s *AggregateStore) {
		s.observer = o
	}
}

// AggregateStore owns the single CampaignStats record. Updates are
// read-apply-commit loops guarded by the blob version, so two concurrent
// donations can never overwrite each other's increment.
type AggregateStore struct {
	store      blobstore.Store
	campaign   campaign.Campaign
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	observer   ConflictObserver
	logger     *slog.Logger
}

func NewAggregateStore(store blobstore.Store, c campaign.Campaign, timeout time.Duration, maxRetries int, logger *slog.Logger, opts ...AggregateOption) *AggregateStore {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	s := &AggregateStore{
		store:      store,
		campaign:   c,
		timeout:    timeout,
		maxRetries: maxRetries,
		baseDelay:  25 * time.Millisecond,
		maxDelay:   time.Second,
		sleep:      sleepCtx,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReadOrInit returns the current aggregate, creating a zero record when none
// exists. A read failure is logged and yields a zero aggregate so the stats
// endpoint keeps answering.
func (s *AggregateStore) ReadOrInit(ctx context.Context) types.CampaignStats {
	stats, version, err := s.read(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "campaign stats read failed, serving zero aggregate",
			"campaign", s.campaign.ID,
			"error", err,
		)
		return s.campaign.ZeroStats(s.now())
	}
	if version > 0 {
		return stats
	}

	// Conditional create: a concurrent writer that got there first wins and
	// our zero record is simply dropped.
	if _, err := s.commit(ctx, stats, 0); err != nil && !errors.Is(err, blobstore.ErrConflict) {
		s.logger.WarnContext(ctx, "campaign stats lazy init failed",
			"campaign", s.campaign.ID,
			"error", err,
		)
	}
	return stats
}

// Increment folds rec into the aggregate, retrying on version conflicts with
// exponential backoff and full jitter.
func (s *AggregateStore) Increment(ctx context.Context, rec types.DonationRecord) (types.CampaignStats, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, s.backoff(attempt)); err != nil {
				return types.CampaignStats{}, storageError("increment_aggregate", err)
			}
		}

		stats, version, err := s.read(ctx)
		if err != nil {
			// Committing against version 0 is a create-if-absent, so a
			// zero fallback can only succeed when no aggregate exists.
			s.logger.WarnContext(ctx, "campaign stats read failed, retrying from zero aggregate",
				"campaign", s.campaign.ID,
				"error", err,
			)
			stats, version = s.campaign.ZeroStats(s.now()), 0
		}

		next := campaign.ApplyDonation(stats, rec, s.now())
		if _, err := s.commit(ctx, next, version); err != nil {
			if !errors.Is(err, blobstore.ErrConflict) {
				return types.CampaignStats{}, storageError("commit_aggregate", err)
			}
			lastErr = err
			if s.observer != nil {
				s.observer.AggregateConflict(ctx)
			}
			s.logger.DebugContext(ctx, "campaign stats commit conflict",
				"campaign", s.campaign.ID,
				"attempt", attempt+1,
				"expected_version", version,
			)
			continue
		}
		return next, nil
	}

	return types.CampaignStats{}, types.NewAppError(
		types.ErrCodeConflictConcurrent,
		fmt.Sprintf("campaign stats update lost %d consecutive races", s.maxRetries),
		lastErr,
	)
}

// Current returns the stored aggregate without creating one. Unlike
// ReadOrInit it reports read failures.
func (s *AggregateStore) Current(ctx context.Context) (types.CampaignStats, error) {
	stats, _, err := s.read(ctx)
	if err != nil {
		return types.CampaignStats{}, storageError("read_aggregate", err)
	}
	return stats, nil
}

// read returns the stored aggregate and its version, or a zero aggregate with
// version 0 when none exists.
func (s *AggregateStore) read(ctx context.Context) (types.CampaignStats, int64, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	blob, err := s.store.Get(ctx, s.campaign.ID)
	if errors.Is(err, blobstore.ErrNotFound) {
		return s.campaign.ZeroStats(s.now()), 0, nil
	}
	if err != nil {
		return types.CampaignStats{}, 0, err
	}

	var stats types.CampaignStats
	if err := json.Unmarshal(blob.Data, &stats); err != nil {
		return types.CampaignStats{}, 0, fmt.Errorf("decoding campaign stats: %w", err)
	}
	if stats.Target.IsZero() {
		stats.Target = s.campaign.Target
	}
	return stats, blob.Version, nil
}

func (s *AggregateStore) commit(ctx context.Context, stats types.CampaignStats, expected int64) (int64, error) {
	data, err := json.Marshal(stats)
	if err != nil {
		return 0, fmt.Errorf("encoding campaign stats: %w", err)
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	return s.store.PutIf(ctx, s.campaign.ID, data, map[string]string{"campaign": s.campaign.ID}, expected)
}

// Replace overwrites the aggregate unconditionally. Only the reconcile tool
// uses this, to repair drift.
func (s *AggregateStore) Replace(ctx context.Context, stats types.CampaignStats) error {
	_, version, err := s.read(ctx)
	if err != nil {
		return storageError("read_aggregate", err)
	}
	if _, err := s.commit(ctx, stats, version); err != nil {
		return storageError("replace_aggregate", err)
	}
	return nil
}

// backoff returns a random delay in [0, min(maxDelay, baseDelay*2^attempt)).
func (s *AggregateStore) backoff(attempt int) time.Duration {
	ceiling := s.baseDelay << attempt
	if ceiling <= 0 || ceiling > s.maxDelay {
		ceiling = s.maxDelay
	}
	if ceiling <= 0 {
		return 0
	}
	return rand.N(ceiling)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
