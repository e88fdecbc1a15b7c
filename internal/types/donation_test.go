package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaignStatsView(t *testing.T) {
	last := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	stats := CampaignStats{
		Campaign:              "youtuber_rebuild_punjab",
		TotalAmount:           decimal.RequireFromString("1234.5"),
		DonationCount:         3,
		Target:                decimal.NewFromInt(1500000),
		ProgressPercentage:    decimal.RequireFromString("0.0823"),
		LastUpdated:           last,
		LastDonationTimestamp: &last,
	}

	view := stats.View()
	assert.Equal(t, 1234.5, view.TotalAmount)
	assert.Equal(t, float64(1500000), view.Target)
	assert.Equal(t, 0.08, view.ProgressPercentage)
	assert.Equal(t, int64(3), view.DonationCount)
}

func TestDonationRecordRoundTripKeepsExactAmount(t *testing.T) {
	rec := DonationRecord{
		PaymentID: "pay_1",
		Amount:    decimal.RequireFromString("0.1").Add(decimal.RequireFromString("0.2")),
		Timestamp: time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var back DonationRecord
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Amount.Equal(decimal.RequireFromString("0.3")), "got %s", back.Amount)
	assert.Nil(t, back.Fee)
}
