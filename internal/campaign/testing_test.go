package campaign

import "github.com/shopspring/decimal"

func testCampaign() Campaign {
	return Campaign{
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
