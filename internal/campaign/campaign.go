// Package campaign holds the campaign definition, the rules that decide
// whether a payment belongs to it, and the pure aggregate arithmetic.
package campaign

import (
	"time"

	"github.com/shopspring/decimal"

	"campaignfund/internal/config"
	"campaignfund/internal/types"
)

// SourceSubdomainCheckout is both a classification tag and the value the
// order creator writes into notes.source.
const SourceSubdomainCheckout = "subdomain_checkout"

// Campaign is the single campaign served by this process.
type Campaign struct {
	ID            string
	Name          string
	Organizer     string
	Domain        string
	ReceiptPrefix string
	Target        decimal.Decimal
	Minimum       decimal.Decimal
	Currency      string
}

// FromConfig builds the campaign from configuration.
func FromConfig(cfg config.CampaignConfig) Campaign {
	return Campaign{
		ID:            cfg.ID,
		Name:          cfg.Name,
		Organizer:     cfg.Organizer,
		Domain:        cfg.Domain,
		ReceiptPrefix: cfg.ReceiptPrefix,
		Target:        decimal.NewFromInt(cfg.TargetINR),
		Minimum:       decimal.NewFromInt(cfg.MinimumINR),
		Currency:      cfg.Currency,
	}
}

var hundred = decimal.NewFromInt(100)

// ZeroStats is the aggregate of a campaign with no donations.
func (c Campaign) ZeroStats(now time.Time) types.CampaignStats {
	return types.CampaignStats{
		Campaign:           c.ID,
		TotalAmount:        decimal.Zero,
		DonationCount:      0,
		Target:             c.Target,
		ProgressPercentage: decimal.Zero,
		LastUpdated:        now.UTC(),
	}
}

// ApplyDonation returns stats with one more donation folded in. The input
// is not modified.
func ApplyDonation(stats types.CampaignStats, rec types.DonationRecord, now time.Time) types.CampaignStats {
	next := stats
	next.TotalAmount = stats.TotalAmount.Add(rec.Amount)
	next.DonationCount = stats.DonationCount + 1
	next.ProgressPercentage = Progress(next.TotalAmount, next.Target)
	next.LastUpdated = now.UTC()
	ts := rec.Timestamp
	next.LastDonationTimestamp = &ts
	return next
}

// Progress is min(100, total/target*100). A non-positive target yields 0.
func Progress(total, target decimal.Decimal) decimal.Decimal {
	if !target.IsPositive() {
		return decimal.Zero
	}
	pct := total.Mul(hundred).Div(target)
	if pct.GreaterThan(hundred) {
		return hundred
	}
	if pct.IsNegative() {
		return decimal.Zero
	}
	return pct
}

// PaiseToINR converts the gateway's integer minor units to rupees.
func PaiseToINR(paise int64) decimal.Decimal {
	return decimal.New(paise, -2)
}

// INRToPaise converts rupees to minor units, rounding half away from zero.
func INRToPaise(inr decimal.Decimal) int64 {
	return inr.Mul(hundred).Round(0).IntPart()
}
