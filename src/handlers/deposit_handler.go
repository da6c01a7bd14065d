// backend/src/handlers/deposit_handler.go
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/username/depositmirror/backend/src/logger"
	"github.com/username/depositmirror/backend/src/models"
	"github.com/username/depositmirror/backend/src/utils"
	"github.com/xuri/excelize/v2"
)

// exportTimeFormat is how timestamps are rendered in spreadsheet exports.
const exportTimeFormat = "02/01/2006 15:04:05"

var exportHeaders = []string{
	"Order", "Bank Account", "Username", "Before Deposit", "Deposit",
	"Remaining Balance", "Transaction Time", "Slip Time", "Depositing Bank",
	"Made By", "Status", "Details", "Aff",
}

// DepositReader is the read-side the listing and export endpoints consume.
// Satisfied by *storage.DepositStore.
type DepositReader interface {
	List(ctx context.Context, filter models.DepositFilter) ([]models.Deposit, int, error)
	ListAll(ctx context.Context, filter models.DepositFilter) ([]models.Deposit, error)
}

type DepositHandler struct {
	store DepositReader
}

func NewDepositHandler(store DepositReader) *DepositHandler {
	return &DepositHandler{store: store}
}

type paginationInfo struct {
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
	Total   int `json:"total"`
}

type depositListResponse struct {
	Data       []models.Deposit `json:"data"`
	Pagination paginationInfo   `json:"pagination"`
}

// HandleListDeposits serves the filtered, paginated deposit listing.
func (h *DepositHandler) HandleListDeposits(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 {
		filter.PerPage = 10
	}

	deposits, total, err := h.store.List(r.Context(), filter)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list deposits", "error", err)
		utils.SendJSONError(w, "Failed to fetch deposits", http.StatusInternalServerError)
		return
	}

	utils.SendJSONResponse(w, depositListResponse{
		Data: deposits,
		Pagination: paginationInfo{
			Page:    filter.Page,
			PerPage: filter.PerPage,
			Total:   total,
		},
	}, http.StatusOK)
}

// HandleExportDeposits streams every matching deposit as an XLSX download.
func (h *DepositHandler) HandleExportDeposits(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	deposits, err := h.store.ListAll(r.Context(), filter)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to load deposits for export", "error", err)
		utils.SendJSONError(w, "Failed to export deposits", http.StatusInternalServerError)
		return
	}

	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Deposits"
	f.SetSheetName("Sheet1", sheet)

	for col, header := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, header)
	}

	for row, d := range deposits {
		values := []any{
			d.Order,
			d.BankUser,
			d.Username,
			d.BeforeDeposit.InexactFloat64(),
			d.Deposit.InexactFloat64(),
			d.RemainingBalance.InexactFloat64(),
			d.TransactionTime.Format(exportTimeFormat),
			d.SlipTime.Format(exportTimeFormat),
			d.BankDeposit,
			d.MadeBy,
			d.Status,
			derefOrEmpty(d.Details),
			derefOrEmpty(d.Aff),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, value)
		}
	}

	filename := fmt.Sprintf("deposits_%s.xlsx", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	if err := f.Write(w); err != nil {
		logger.FromContext(r.Context()).Error("Failed to write XLSX export", "error", err)
	}
}

// filterFromQuery parses the shared listing/export query parameters.
// Dates accept RFC3339 or plain YYYY-MM-DD; a date-only end bound covers the
// whole day.
func filterFromQuery(r *http.Request) (models.DepositFilter, error) {
	q := r.URL.Query()
	filter := models.DepositFilter{
		Username: q.Get("username"),
	}

	if pageStr := q.Get("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil {
			return filter, fmt.Errorf("invalid page parameter %q", pageStr)
		}
		filter.Page = page
	}
	if perPageStr := q.Get("perPage"); perPageStr != "" {
		perPage, err := strconv.Atoi(perPageStr)
		if err != nil {
			return filter, fmt.Errorf("invalid perPage parameter %q", perPageStr)
		}
		filter.PerPage = perPage
	}

	startStr, endStr := q.Get("startDate"), q.Get("endDate")
	if startStr != "" && endStr != "" {
		start, _, err := parseDateParam(startStr)
		if err != nil {
			return filter, fmt.Errorf("invalid startDate parameter %q", startStr)
		}
		end, dateOnly, err := parseDateParam(endStr)
		if err != nil {
			return filter, fmt.Errorf("invalid endDate parameter %q", endStr)
		}
		if dateOnly {
			end = end.AddDate(0, 0, 1).Add(-time.Second)
		}
		filter.StartDate = &start
		filter.EndDate = &end
	}

	return filter, nil
}

func parseDateParam(value string) (t time.Time, dateOnly bool, err error) {
	if t, err = time.Parse(time.RFC3339, value); err == nil {
		return t, false, nil
	}
	if t, err = time.Parse("2006-01-02", value); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, err
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
