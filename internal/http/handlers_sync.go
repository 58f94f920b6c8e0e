// Package httpx provides HTTP handlers and utilities for the listing sync API.
package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/joblens/listing-sync/internal/core"
	"github.com/joblens/listing-sync/internal/domain/model"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// SyncHandlers provides HTTP handlers for sync orchestration operations.
type SyncHandlers struct {
	Svc *core.SyncService
	// NextFire reports when the scheduler will next trigger a run. It is nil
	// when this process does not run the scheduler.
	NextFire func() time.Time
}

// statusResponse augments the service status with the scheduler's next slot.
type statusResponse struct {
	*core.SyncStatus
	SchedulerRunning bool       `json:"scheduler_running"`
	NextFire         *time.Time `json:"next_fire,omitempty"`
}

// Status handles GET requests for the current sync status.
func (h *SyncHandlers) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.Svc.Status(r.Context())
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "status_failed", Err: err})
		return
	}

	resp := statusResponse{SyncStatus: status}
	if h.NextFire != nil {
		resp.SchedulerRunning = true
		next := h.NextFire()
		resp.NextFire = &next
	}

	WriteJSON(w, http.StatusOK, resp)
}

// triggerRequest is the optional body for manual trigger requests.
type triggerRequest struct {
	TriggeredBy string `json:"triggered_by"`
}

// Trigger handles POST requests to run a sync immediately.
func (h *SyncHandlers) Trigger(w http.ResponseWriter, r *http.Request) {
	triggeredBy := "api"
	if r.ContentLength > 0 {
		var req triggerRequest
		if !DecodeJSON(w, r, &req) {
			return
		}
		if req.TriggeredBy != "" {
			triggeredBy = req.TriggeredBy
		}
	}

	run, err := h.Svc.RunOnce(r.Context(), model.RunTypeManual, triggeredBy)
	if err != nil {
		if errors.Is(err, core.ErrSyncDisabled) {
			WriteError(w, ErrorParams{Code: http.StatusServiceUnavailable, ErrCode: "sync_disabled", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "sync_failed", Err: err})
		return
	}

	if run.Status == model.RunStatusSkipped {
		WriteJSON(w, http.StatusConflict, run)
		return
	}

	WriteJSON(w, http.StatusOK, run)
}

// ListRuns handles GET requests for the run audit trail, newest first.
func (h *SyncHandlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseQueryInt(r, "limit", defaultRunsLimit)
	if limit < 1 || limit > maxRunsLimit {
		limit = defaultRunsLimit
	}
	offset := parseQueryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	runs, err := h.Svc.ListRuns(r.Context(), limit, offset)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "list_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"runs":   runs,
		"limit":  limit,
		"offset": offset,
	})
}

func parseQueryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
