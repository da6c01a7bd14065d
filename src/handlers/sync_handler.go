// backend/src/handlers/sync_handler.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/username/depositmirror/backend/src/logger"
	"github.com/username/depositmirror/backend/src/syncer"
	"github.com/username/depositmirror/backend/src/utils"
)

// SyncRunner executes one full ingestion run. Satisfied by *syncer.Controller.
type SyncRunner interface {
	Run(ctx context.Context) (syncer.RunSummary, error)
}

// SyncHandler exposes the "start sync" trigger. Runs are single-flight: a
// trigger arriving while a run is in progress is rejected rather than queued.
type SyncHandler struct {
	runner SyncRunner
	mu     sync.Mutex
}

func NewSyncHandler(runner SyncRunner) *SyncHandler {
	return &SyncHandler{runner: runner}
}

type syncResponse struct {
	Message       string            `json:"message"`
	RowsProcessed int               `json:"rowsProcessed"`
	Summary       syncer.RunSummary `json:"summary"`
}

type syncErrorResponse struct {
	Message string            `json:"message"`
	Error   string            `json:"error"`
	Summary syncer.RunSummary `json:"summary"`
}

// HandleSync runs a full ingestion run and reports the run summary. The
// summary always distinguishes a genuinely exhausted upstream stream from a
// run aborted by an error or one that skipped pages after retries.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.SendJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.mu.TryLock() {
		utils.SendJSONError(w, "A sync run is already in progress", http.StatusConflict)
		return
	}
	defer h.mu.Unlock()

	ctxLogger := logger.FromContext(r.Context())
	ctxLogger.Info("Sync run triggered")

	summary, err := h.runner.Run(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) {
			status = http.StatusServiceUnavailable
		}
		ctxLogger.Error("Sync run failed", "stoppedBy", summary.StoppedBy, "error", err)
		utils.SendJSONResponse(w, syncErrorResponse{
			Message: "Error syncing data",
			Error:   err.Error(),
			Summary: summary,
		}, status)
		return
	}

	ctxLogger.Info("Sync run completed",
		"rounds", summary.Rounds,
		"rowsFetched", summary.RowsFetched,
		"recordsAccepted", summary.RecordsAccepted,
		"rowsRejected", summary.RowsRejected,
		"pagesExhausted", summary.PagesExhausted,
	)
	utils.SendJSONResponse(w, syncResponse{
		Message:       "Data fetch and save completed successfully.",
		RowsProcessed: summary.RecordsAccepted,
		Summary:       summary,
	}, http.StatusOK)
}
