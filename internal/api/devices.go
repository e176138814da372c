package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/relaysync/internal/transport"
)

// maxDebounce caps host-supplied debounce windows.
const maxDebounce = 10 * time.Second

// TargetRequest is the body of PUT /devices/{id}/target.
type TargetRequest struct {
	Value *int `json:"value"`

	// DebounceMS is the quiet window in milliseconds. Omitted means the
	// configured default; 0 sends immediately.
	DebounceMS *int `json:"debounce_ms,omitempty"`
}

// PowerRequest is the body of PUT /devices/{id}/power.
type PowerRequest struct {
	On      *bool `json:"on"`
	Channel int   `json:"channel"`
}

// TransportResponse is the body of GET /devices/{id}/transport.
type TransportResponse struct {
	DeviceID     string                     `json:"device_id"`
	Reachability transport.Reachability     `json:"reachability"`
	Params       map[string]transport.Field `json:"params"`
}

// handleListDevices returns the canonical state of every device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	states := s.devices.States()
	writeJSON(w, http.StatusOK, map[string]any{"devices": states, "count": len(states)})
}

// handleGetDevice returns the canonical state of one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	st, err := s.devices.State(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleGetTransport returns reachability and the last-known parameter map.
func (s *Server) handleGetTransport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	reach, ok := s.transport.Reachability(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	params, _ := s.transport.LastKnown(id)
	if params == nil {
		params = map[string]transport.Field{}
	}

	writeJSON(w, http.StatusOK, TransportResponse{
		DeviceID:     id,
		Reachability: reach,
		Params:       params,
	})
}

// handleSetTarget drives an actuator to a position. Debounced requests
// return 202 immediately; the outcome arrives on the WebSocket feed.
func (s *Server) handleSetTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req TargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeValidationError(w, "value is required")
		return
	}
	if *req.Value < 0 || *req.Value > 100 {
		writeValidationError(w, "value must be between 0 and 100")
		return
	}

	quiet := s.defaultDebounce
	if req.DebounceMS != nil {
		if *req.DebounceMS < 0 {
			writeValidationError(w, "debounce_ms must not be negative")
			return
		}
		quiet = time.Duration(*req.DebounceMS) * time.Millisecond
	}
	if quiet > maxDebounce {
		quiet = maxDebounce
	}

	if quiet > 0 {
		if err := s.devices.SetTargetDebounced(id, *req.Value, quiet); err != nil {
			s.writeDeviceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":      "accepted",
			"device_id":   id,
			"target":      *req.Value,
			"debounce_ms": quiet.Milliseconds(),
		})
		return
	}

	if err := s.devices.SetTarget(r.Context(), id, *req.Value); err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	s.writeState(w, r, id)
}

// handleSetPower switches one channel of an on/off device.
func (s *Server) handleSetPower(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req PowerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.On == nil {
		writeValidationError(w, "on is required")
		return
	}

	if err := s.devices.SetPower(r.Context(), id, req.Channel, *req.On); err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	s.writeState(w, r, id)
}

// handleResync asks the device to re-report its full state. The report
// arrives asynchronously on the WebSocket feed.
func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.devices.Resync(r.Context(), id); err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "resync_requested",
		"device_id": id,
	})
}

// writeState responds with the device's current canonical state.
func (s *Server) writeState(w http.ResponseWriter, r *http.Request, id string) {
	st, err := s.devices.State(id)
	if err != nil {
		s.writeDeviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
