package donations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"campaignfund/internal/campaign"
	"campaignfund/internal/types"
)

// defaultFetchConcurrency bounds parallel record reads during a reconcile.
const defaultFetchConcurrency = 8

// Drift compares the stored aggregate with one recomputed from records.
type Drift struct {
	Stored     types.CampaignStats
	Recomputed types.CampaignStats
	Records    int
}

// InSync reports whether the stored totals match the records.
func (d Drift) InSync() bool {
	return d.Stored.DonationCount == d.Recomputed.DonationCount &&
		d.Stored.TotalAmount.Equal(d.Recomputed.TotalAmount)
}

func (d Drift) String() string {
	return fmt.Sprintf("stored total=%s count=%d, records total=%s count=%d",
		d.Stored.TotalAmount, d.Stored.DonationCount,
		d.Recomputed.TotalAmount, d.Recomputed.DonationCount)
}

// Reconciler rebuilds the campaign aggregate from donation records. The
// aggregate is a cache of the records; this is how a lost increment or a
// double count is detected and repaired.
type Reconciler struct {
	records     *RecordStore
	aggregates  *AggregateStore
	campaign    campaign.Campaign
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

func NewReconciler(records *RecordStore, aggregates *AggregateStore, c campaign.Campaign, concurrency int, logger *slog.Logger) *Reconciler {
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		records:     records,
		aggregates:  aggregates,
		campaign:    c,
		concurrency: concurrency,
		now:         time.Now,
		logger:      logger,
	}
}

// Check recomputes the aggregate and compares it with the stored one.
// Records for other campaigns are skipped.
func (r *Reconciler) Check(ctx context.Context) (Drift, error) {
	stored, err := r.aggregates.Current(ctx)
	if err != nil {
		return Drift{}, err
	}

	keys, err := r.records.Keys(ctx)
	if err != nil {
		return Drift{}, err
	}

	fetched := make([]*types.DonationRecord, len(keys))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			rec, err := r.records.Get(gCtx, key)
			if err != nil {
				return fmt.Errorf("fetching record %s: %w", key, err)
			}
			fetched[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Drift{}, err
	}

	now := r.now()
	recomputed := r.campaign.ZeroStats(now)
	counted := 0
	// Keys are chronological, so the last record folded sets the last
	// donation timestamp.
	for _, rec := range fetched {
		if rec.Campaign != "" && rec.Campaign != r.campaign.ID {
			continue
		}
		recomputed = campaign.ApplyDonation(recomputed, *rec, now)
		counted++
	}

	return Drift{Stored: stored, Recomputed: recomputed, Records: counted}, nil
}

// Repair overwrites the stored aggregate with the recomputed one when they
// differ. It returns the drift that was found.
func (r *Reconciler) Repair(ctx context.Context) (Drift, error) {
	drift, err := r.Check(ctx)
	if err != nil {
		return Drift{}, err
	}
	if drift.InSync() {
		return drift, nil
	}

	r.logger.WarnContext(ctx, "campaign aggregate drift detected, repairing",
		"campaign", r.campaign.ID,
		"stored_total", drift.Stored.TotalAmount.String(),
		"stored_count", drift.Stored.DonationCount,
		"records_total", drift.Recomputed.TotalAmount.String(),
		"records_count", drift.Recomputed.DonationCount,
	)
	if err := r.aggregates.Replace(ctx, drift.Recomputed); err != nil {
		return drift, err
	}
	return drift, nil
}
