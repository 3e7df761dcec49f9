package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"diskmesh/internal/domain"
)

// ListPeripherals returns every peripheral
func (h *Handler) ListPeripherals(w http.ResponseWriter, r *http.Request) {
	peripherals, err := h.engine.Peripherals(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list peripherals", err)
		return
	}
	if peripherals == nil {
		peripherals = []domain.Peripheral{}
	}
	h.writeJSON(w, peripherals, http.StatusOK)
}

// SetPeripheralEnabled switches a peripheral on or off
func (h *Handler) SetPeripheralEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.engine.SetPeripheralEnabled(r.Context(), chi.URLParam(r, "id"), req.Enabled)
	if err != nil {
		h.fail(w, r, "Failed to update peripheral", err)
		return
	}
	h.writeJSON(w, p, http.StatusOK)
}
