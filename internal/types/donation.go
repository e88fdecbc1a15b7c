package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// DonationRecord is one accepted payment. Records are written once and
// never mutated; the record key is derived from Timestamp and PaymentID.
type DonationRecord struct {
	PaymentID       string           `json:"paymentId"`
	OrderID         string           `json:"orderId"`
	Amount          decimal.Decimal  `json:"amount"`
	Currency        string           `json:"currency,omitempty"`
	DonorName       string           `json:"donorName"`
	DonorEmail      string           `json:"donorEmail,omitempty"`
	DonorPhone      string           `json:"donorPhone,omitempty"`
	Method          string           `json:"method,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
	Campaign        string           `json:"campaign"`
	Source          string           `json:"source"`
	Event           string           `json:"event,omitempty"`
	Fee             *decimal.Decimal `json:"fee,omitempty"`
	TrackingReceipt string           `json:"trackingReceipt,omitempty"`
}

// CampaignStats is the running aggregate for a campaign. There is exactly
// one per campaign id.
type CampaignStats struct {
	Campaign              string          `json:"campaign"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	DonationCount         int64           `json:"donation_count"`
	Target                decimal.Decimal `json:"target"`
	ProgressPercentage    decimal.Decimal `json:"progress_percentage"`
	LastUpdated           time.Time       `json:"last_updated"`
	LastDonationTimestamp *time.Time      `json:"last_donation_timestamp,omitempty"`
}

// CampaignStatsView is the wire form of CampaignStats returned by the stats
// endpoint. Amounts are plain JSON numbers for the frontend.
type CampaignStatsView struct {
	Campaign              string     `json:"campaign"`
	TotalAmount           float64    `json:"total_amount"`
	DonationCount         int64      `json:"donation_count"`
	Target                float64    `json:"target"`
	ProgressPercentage    float64    `json:"progress_percentage"`
	LastUpdated           time.Time  `json:"last_updated"`
	LastDonationTimestamp *time.Time `json:"last_donation_timestamp,omitempty"`
}

// View converts the stored aggregate into its response shape. The
// percentage is rounded to two places for display only.
func (s CampaignStats) View() CampaignStatsView {
	return CampaignStatsView{
		Campaign:              s.Campaign,
		TotalAmount:           s.TotalAmount.InexactFloat64(),
		DonationCount:         s.DonationCount,
		Target:                s.Target.InexactFloat64(),
		ProgressPercentage:    s.ProgressPercentage.Round(2).InexactFloat64(),
		LastUpdated:           s.LastUpdated,
		LastDonationTimestamp: s.LastDonationTimestamp,
	}
}

// ClaimState tracks a payment id through the ledger.
type ClaimState string

const (
	ClaimPending  ClaimState = "pending"
	ClaimReleased ClaimState = "released"
	ClaimCounted  ClaimState = "counted"
)

// PaymentClaim reserves a payment id so that redelivered or paired events
// (authorized then captured) produce at most one record.
type PaymentClaim struct {
	PaymentID string     `json:"paymentId"`
	RecordKey string     `json:"recordKey"`
	State     ClaimState `json:"state"`
	ClaimedAt time.Time  `json:"claimedAt"`
	Attempt   int        `json:"attempt"`
}
