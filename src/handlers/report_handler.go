// backend/src/handlers/report_handler.go
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/depositmirror/backend/src/logger"
	"github.com/username/depositmirror/backend/src/models"
	"github.com/username/depositmirror/backend/src/utils"
)

// Cache tuning for summary reports. Aggregates only move when a sync run
// lands, so a short TTL is enough to absorb dashboard refresh bursts.
const (
	SummaryCacheExpiration = 5 * time.Minute
	CacheCleanupInterval   = 10 * time.Minute
)

// SummaryReader is the aggregate query the report endpoint consumes.
// Satisfied by *storage.DepositStore.
type SummaryReader interface {
	Summary(ctx context.Context, from, to time.Time) (models.SummaryReport, error)
}

type ReportHandler struct {
	store SummaryReader
	cache *cache.Cache
}

func NewReportHandler(store SummaryReader, reportCache *cache.Cache) *ReportHandler {
	return &ReportHandler{store: store, cache: reportCache}
}

// HandleSummaryReport serves the aggregated deposit summary for a required
// date range, cached briefly per range.
func (h *ReportHandler) HandleSummaryReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	startStr, endStr := q.Get("startDate"), q.Get("endDate")
	if startStr == "" || endStr == "" {
		utils.SendJSONError(w, "Start date and end date are required", http.StatusBadRequest)
		return
	}

	start, _, err := parseDateParam(startStr)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("invalid startDate parameter %q", startStr), http.StatusBadRequest)
		return
	}
	end, dateOnly, err := parseDateParam(endStr)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("invalid endDate parameter %q", endStr), http.StatusBadRequest)
		return
	}
	if dateOnly {
		end = end.AddDate(0, 0, 1).Add(-time.Second)
	}

	cacheKey := fmt.Sprintf("summary:%s:%s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	if h.cache != nil {
		if cached, found := h.cache.Get(cacheKey); found {
			if report, ok := cached.(models.SummaryReport); ok {
				utils.SendJSONResponse(w, report, http.StatusOK)
				return
			}
		}
	}

	report, err := h.store.Summary(r.Context(), start, end)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to generate summary report", "error", err)
		utils.SendJSONError(w, "Failed to generate summary report", http.StatusInternalServerError)
		return
	}

	if h.cache != nil {
		h.cache.Set(cacheKey, report, cache.DefaultExpiration)
	}
	utils.SendJSONResponse(w, report, http.StatusOK)
}
