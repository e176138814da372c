package lan

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/relaysync/internal/transport"
)

const maxEventSize = 64 << 10

// Event is the body devices (or a LAN relay) POST when their state
// changes. Address is optional and updates the device's known LAN address.
type Event struct {
	Data    transport.Params `json:"data"`
	Address string           `json:"address,omitempty"`
}

// Handler accepts pushed deltas from the LAN and forwards them to a
// Receiver with source local. Mount it under /lan.
type Handler struct {
	receiver Receiver
	router   chi.Router
}

// NewHandler builds the callback routes:
//
//	POST /devices/{id}/events
func NewHandler(r Receiver) *Handler {
	h := &Handler{receiver: r, router: chi.NewRouter()}
	h.router.Post("/devices/{id}/events", h.handleEvent)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "missing device id", http.StatusBadRequest)
		return
	}

	var ev Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventSize)).Decode(&ev); err != nil {
		http.Error(w, "invalid event body", http.StatusBadRequest)
		return
	}

	h.receiver.Receive(transport.Inbound{
		DeviceID: id,
		Source:   transport.SourceLocal,
		Params:   ev.Data,
		Address:  ev.Address,
	})
	w.WriteHeader(http.StatusNoContent)
}
