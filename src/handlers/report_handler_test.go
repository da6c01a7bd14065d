package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/depositmirror/backend/src/models"
)

type fakeSummaryReader struct {
	report models.SummaryReport
	calls  int
}

func (f *fakeSummaryReader) Summary(ctx context.Context, from, to time.Time) (models.SummaryReport, error) {
	f.calls++
	return f.report, nil
}

func TestHandleSummaryReport_RequiresDateRange(t *testing.T) {
	h := NewReportHandler(&fakeSummaryReader{}, nil)

	for _, target := range []string{
		"/api/reports/summary",
		"/api/reports/summary?startDate=2025-01-01",
		"/api/reports/summary?endDate=2025-01-31",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		h.HandleSummaryReport(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "target %s", target)
	}
}

func TestHandleSummaryReport_ReturnsAggregates(t *testing.T) {
	reader := &fakeSummaryReader{report: models.SummaryReport{
		TotalAmount:      decimal.RequireFromString("350"),
		UniqueUsersCount: 2,
		DepositsByBank: []models.BankSummary{
			{BankDeposit: "SCB", Amount: decimal.RequireFromString("300"), Count: 2},
		},
		DailyDeposits: []models.DailySummary{
			{Date: "2025-02-01", Amount: decimal.RequireFromString("300"), Count: 2},
		},
	}}
	h := NewReportHandler(reader, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/api/reports/summary?startDate=2025-02-01&endDate=2025-02-10", nil)
	rec := httptest.NewRecorder()
	h.HandleSummaryReport(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.SummaryReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.TotalAmount.Equal(decimal.RequireFromString("350")))
	assert.Equal(t, 2, resp.UniqueUsersCount)
	require.Len(t, resp.DepositsByBank, 1)
	assert.Equal(t, "SCB", resp.DepositsByBank[0].BankDeposit)
}

func TestHandleSummaryReport_CachesPerRange(t *testing.T) {
	reader := &fakeSummaryReader{}
	h := NewReportHandler(reader, cache.New(time.Minute, time.Minute))

	target := "/api/reports/summary?startDate=2025-02-01&endDate=2025-02-10"
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.HandleSummaryReport(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 1, reader.calls)

	// A different range misses the cache.
	rec := httptest.NewRecorder()
	h.HandleSummaryReport(rec, httptest.NewRequest(http.MethodGet,
		"/api/reports/summary?startDate=2025-03-01&endDate=2025-03-10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, reader.calls)
}
