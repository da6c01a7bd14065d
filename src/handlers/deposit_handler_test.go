package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/depositmirror/backend/src/models"
)

type fakeDepositReader struct {
	deposits   []models.Deposit
	total      int
	lastFilter models.DepositFilter
}

func (f *fakeDepositReader) List(ctx context.Context, filter models.DepositFilter) ([]models.Deposit, int, error) {
	f.lastFilter = filter
	return f.deposits, f.total, nil
}

func (f *fakeDepositReader) ListAll(ctx context.Context, filter models.DepositFilter) ([]models.Deposit, error) {
	f.lastFilter = filter
	return f.deposits, nil
}

func TestHandleListDeposits_Defaults(t *testing.T) {
	reader := &fakeDepositReader{deposits: []models.Deposit{{Order: "DP-1"}}, total: 1}
	h := NewDepositHandler(reader)

	req := httptest.NewRequest(http.MethodGet, "/api/deposits", nil)
	rec := httptest.NewRecorder()
	h.HandleListDeposits(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, reader.lastFilter.Page)
	assert.Equal(t, 10, reader.lastFilter.PerPage)

	var resp struct {
		Data       []models.Deposit `json:"data"`
		Pagination struct {
			Page    int `json:"page"`
			PerPage int `json:"perPage"`
			Total   int `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 1)
	assert.Equal(t, 1, resp.Pagination.Total)
}

func TestHandleListDeposits_Filters(t *testing.T) {
	reader := &fakeDepositReader{}
	h := NewDepositHandler(reader)

	req := httptest.NewRequest(http.MethodGet,
		"/api/deposits?page=2&perPage=25&username=somchai&startDate=2025-01-01&endDate=2025-01-31", nil)
	rec := httptest.NewRecorder()
	h.HandleListDeposits(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, reader.lastFilter.Page)
	assert.Equal(t, 25, reader.lastFilter.PerPage)
	assert.Equal(t, "somchai", reader.lastFilter.Username)
	require.NotNil(t, reader.lastFilter.StartDate)
	require.NotNil(t, reader.lastFilter.EndDate)
	assert.Equal(t, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), *reader.lastFilter.StartDate)
	// A date-only end bound covers the whole day.
	assert.Equal(t, time.Date(2025, time.January, 31, 23, 59, 59, 0, time.UTC), *reader.lastFilter.EndDate)
}

func TestHandleListDeposits_BadParams(t *testing.T) {
	h := NewDepositHandler(&fakeDepositReader{})

	for _, target := range []string{
		"/api/deposits?page=abc",
		"/api/deposits?perPage=abc",
		"/api/deposits?startDate=notadate&endDate=2025-01-31",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		h.HandleListDeposits(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "target %s", target)
	}
}

func TestHandleExportDeposits_XLSXResponse(t *testing.T) {
	aff := "agent01"
	reader := &fakeDepositReader{deposits: []models.Deposit{
		{
			Order:           "DP-1",
			Username:        "alice",
			TransactionTime: time.Date(2025, time.January, 5, 14, 30, 0, 0, time.UTC),
			SlipTime:        time.Date(2025, time.January, 5, 14, 28, 0, 0, time.UTC),
			Aff:             &aff,
		},
	}}
	h := NewDepositHandler(reader)

	req := httptest.NewRequest(http.MethodGet, "/api/deposits/export", nil)
	rec := httptest.NewRecorder()
	h.HandleExportDeposits(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment; filename=deposits_")
	assert.NotZero(t, rec.Body.Len())
}
