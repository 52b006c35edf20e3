package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tbdash/internal/dashboard"
	"github.com/nerrad567/tbdash/internal/thingsboard"
)

// handleDashboard returns the current view without touching the backend.
func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.View())
}

// handleDashboardRefresh runs a refresh now. On failure the error is
// returned and the previous view stays in place.
func (s *Server) handleDashboardRefresh(w http.ResponseWriter, r *http.Request) {
	if _, err := s.refresher.RefreshNow(r.Context()); err != nil {
		s.writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.state.View())
}

// PumpStatusRequest is the body of PUT /pumps/{id}/status.
type PumpStatusRequest struct {
	Status string `json:"status"`
}

// handleSetPumpStatus commands a pump. The dashboard reflects the new
// status only once the backend accepted the command.
func (s *Server) handleSetPumpStatus(w http.ResponseWriter, r *http.Request) {
	var req PumpStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	status, err := thingsboard.ParsePumpStatus(req.Status)
	if err != nil {
		s.writeBackendError(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.pumps.SetPump(r.Context(), id, status); err != nil {
		s.writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
}

// handleUpdatePool applies a local overlay to a pool card. The next
// successful refresh replaces it.
func (s *Server) handleUpdatePool(w http.ResponseWriter, r *http.Request) {
	var patch dashboard.PoolPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	id := chi.URLParam(r, "id")
	if !s.state.UpdatePool(id, patch) {
		writeNotFound(w, "pool not found")
		return
	}
	for _, p := range s.state.View().Pools {
		if p.ID == id {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}
	writeNotFound(w, "pool not found")
}
