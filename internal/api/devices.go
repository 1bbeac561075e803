package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/waterline-io/waterline-core/internal/controller"
	"github.com/waterline-io/waterline-core/internal/wire"
)

// deviceView is a device augmented with the manual request flag, so
// dashboards can grey out the start button while one is outstanding.
type deviceView struct {
	*controller.Device
	ManualPending bool `json:"manual_pending"`
}

// handleListDevices returns every known device.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.ctrl.Repo().ListDevices(r.Context())
	if err != nil {
		s.logger.Error("failed to list devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, deviceView{Device: d, ManualPending: s.ctrl.ManualPending(d.DeviceID)})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

// handleGetDevice returns a single device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	device, err := s.ctrl.Repo().GetDevice(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, controller.ErrDeviceNotFound) {
			writeNotFound(w, "device not found: "+deviceID)
			return
		}
		s.logger.Error("failed to get device", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, deviceView{Device: device, ManualPending: s.ctrl.ManualPending(deviceID)})
}

// thresholdUpdateRequest is the body for PUT /devices/{id}/thresholds.
type thresholdUpdateRequest struct {
	MinLevel float64 `json:"min_level"`
	MaxLevel float64 `json:"max_level"`
}

// handleUpdateThresholds replaces a device's thresholds wholesale.
func (s *Server) handleUpdateThresholds(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	var req thresholdUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	set, err := s.ctrl.UpdateThresholds(r.Context(), deviceID, req.MinLevel, req.MaxLevel)
	if err != nil {
		switch {
		case errors.Is(err, wire.ErrInvalidThreshold):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, controller.ErrDeviceNotFound):
			writeNotFound(w, "device not found: "+deviceID)
		default:
			s.logger.Error("failed to update thresholds", "device_id", deviceID, "error", err)
			writeInternalError(w, "failed to update thresholds")
		}
		return
	}

	writeJSON(w, http.StatusOK, set)
}

// handleStartPump issues a manual pump start.
//
// The response is 202: the command is accepted and published, but the
// pump has not necessarily started. Clients follow the manual request
// state via /requests/{correlation_id} or the WebSocket feed.
func (s *Server) handleStartPump(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	correlationID, err := s.ctrl.StartPump(r.Context(), deviceID)
	if err != nil {
		switch {
		case errors.Is(err, controller.ErrConflict):
			writeConflict(w, "a manual request is already outstanding for this device")
		case errors.Is(err, controller.ErrDeviceNotFound):
			writeNotFound(w, "device not found: "+deviceID)
		default:
			s.logger.Error("failed to start pump", "device_id", deviceID, "error", err)
			writeInternalError(w, "failed to start pump")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"correlation_id": correlationID,
		"state":          string(controller.RequestPending),
	})
}

// handleGetManualRequest returns the state of one manual pump request.
func (s *Server) handleGetManualRequest(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlation_id")

	req, err := s.ctrl.Repo().GetManualRequest(r.Context(), correlationID)
	if err != nil {
		if errors.Is(err, controller.ErrRequestNotFound) {
			writeNotFound(w, "manual request not found: "+correlationID)
			return
		}
		s.logger.Error("failed to get manual request", "correlation_id", correlationID, "error", err)
		writeInternalError(w, "failed to get manual request")
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// handleDeviceHistory returns recent telemetry samples, newest first.
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	if _, err := s.ctrl.Repo().GetDevice(r.Context(), deviceID); err != nil {
		if errors.Is(err, controller.ErrDeviceNotFound) {
			writeNotFound(w, "device not found: "+deviceID)
			return
		}
		s.logger.Error("failed to get device", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}

	samples, err := s.ctrl.History(r.Context(), deviceID, limit)
	if err != nil {
		s.logger.Error("failed to list history", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to list history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"samples": samples,
		"count":   len(samples),
	})
}

// handleDeviceAudit returns the audit trail for a device, newest first.
func (s *Server) handleDeviceAudit(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := s.ctrl.AuditTrail().List(r.Context(), deviceID, limit)
	if err != nil {
		s.logger.Error("failed to list audit entries", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
