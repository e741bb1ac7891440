package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kwilde42/shadow-core/internal/shadow"
)

// handleHealth returns service health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"clients":   s.registry.ClientCount(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListShadows returns all shadow documents.
func (s *Server) handleListShadows(w http.ResponseWriter, r *http.Request) {
	shadows, err := s.service.ListShadows(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"shadows": shadows,
		"count":   len(shadows),
	})
}

// createShadowRequest is the body for POST /shadows.
type createShadowRequest struct {
	DeviceID string          `json:"device_id"`
	Reported json.RawMessage `json:"reported,omitempty"`
}

// handleCreateShadow registers a shadow for a new device.
func (s *Server) handleCreateShadow(w http.ResponseWriter, r *http.Request) {
	var req createShadowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		writeBadRequest(w, "device_id is required")
		return
	}

	initial := shadow.NewState(nil)
	if len(req.Reported) > 0 {
		parsed, err := shadow.ParseState(req.Reported)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		initial = parsed
	}

	sh, err := s.service.CreateDeviceShadow(r.Context(), req.DeviceID, initial)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sh)
}

// handleGetShadow returns one device's shadow document.
func (s *Server) handleGetShadow(w http.ResponseWriter, r *http.Request) {
	sh, err := s.service.GetDeviceShadow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

// handleDeleteShadow removes a device's shadow.
func (s *Server) handleDeleteShadow(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteDeviceShadow(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateReported merges a partial state into the reported substate.
// REST callers have no WebSocket identity, so the originator is empty and
// every subscriber receives the broadcast.
func (s *Server) handleUpdateReported(w http.ResponseWriter, r *http.Request) {
	s.handleUpdateSubstate(w, r, shadow.SubstateReported)
}

// handleUpdateDesired merges a partial state into the desired substate.
func (s *Server) handleUpdateDesired(w http.ResponseWriter, r *http.Request) {
	s.handleUpdateSubstate(w, r, shadow.SubstateDesired)
}

// updateStateRequest is the body for PATCH /shadows/{id}/reported and /desired.
type updateStateRequest struct {
	State json.RawMessage `json:"state"`
}

func (s *Server) handleUpdateSubstate(w http.ResponseWriter, r *http.Request, substate shadow.Substate) {
	deviceID := chi.URLParam(r, "id")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}
	var req updateStateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	partial, err := shadow.ParseState(req.State)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var sh *shadow.Shadow
	if substate == shadow.SubstateReported {
		sh, err = s.service.UpdateReportedState(r.Context(), deviceID, partial, "")
	} else {
		sh, err = s.service.UpdateDesiredState(r.Context(), deviceID, partial, "")
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

// handleClearDesired removes all desired state for a device, dropping any
// pending delta without waiting for the device to report.
func (s *Server) handleClearDesired(w http.ResponseWriter, r *http.Request) {
	sh, err := s.service.ClearDesiredState(r.Context(), chi.URLParam(r, "id"), "")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

// handleGetDelta returns the desired keys whose values differ from reported.
// An empty delta means the device has converged.
func (s *Server) handleGetDelta(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	delta, err := s.service.GetShadowDelta(r.Context(), deviceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"delta":     delta,
		"in_sync":   len(delta) == 0,
	})
}
