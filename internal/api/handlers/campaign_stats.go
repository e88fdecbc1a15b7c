package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"campaignfund/internal/campaign"
	"campaignfund/internal/core"
	"campaignfund/internal/types"
)

// StatsReader returns the campaign aggregate. It never fails: a store
// outage yields zero stats. Implemented by donations.Ledger.
type StatsReader interface {
	Stats(ctx context.Context) types.CampaignStats
}

type statsMeta struct {
	Source    string `json:"source"`
	Domain    string `json:"domain"`
	Organizer string `json:"organizer"`
}

type statsResponse struct {
	Success bool                    `json:"success"`
	Data    types.CampaignStatsView `json:"data"`
	Meta    statsMeta               `json:"meta"`
}

// StatsHandler serves the public progress bar data.
type StatsHandler struct {
	campaign campaign.Campaign
	stats    StatsReader
}

func NewStatsHandler(c campaign.Campaign, stats StatsReader) *StatsHandler {
	return &StatsHandler{campaign: c, stats: stats}
}

func (h *StatsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/campaign-stats", h.Get)
}

func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats := h.stats.Stats(r.Context())

	core.JSON(w, r, http.StatusOK, statsResponse{
		Success: true,
		Data:    stats.View(),
		Meta: statsMeta{
			Source:    "blob_store",
			Domain:    h.campaign.Domain,
			Organizer: h.campaign.Organizer,
		},
	})
}
