package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/degended/marketsync/internal/eventsync"
)

// SyncStatusReader reports the event sync position.
type SyncStatusReader interface {
	Status(ctx context.Context) (eventsync.Status, error)
}

// SyncHandler serves the sync status endpoint.
type SyncHandler struct {
	status SyncStatusReader
	logger *slog.Logger
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(status SyncStatusReader, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{status: status, logger: logHandler(logger, "sync")}
}

// Status returns the cursor, the chain head and the lag between them.
// GET /api/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.status.Status(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "sync status failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to read sync status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
