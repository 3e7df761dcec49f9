package handler

import (
	"net/http"

	"diskmesh/internal/domain"
)

// ListOrphans returns slots preserved from torn-down networks
func (h *Handler) ListOrphans(w http.ResponseWriter, r *http.Request) {
	slots, err := h.engine.OrphanedSlots(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list orphaned slots", err)
		return
	}
	if slots == nil {
		slots = []domain.DriveSlot{}
	}
	h.writeJSON(w, slots, http.StatusOK)
}

// Rescan re-detects every server in the world
func (h *Handler) Rescan(w http.ResponseWriter, r *http.Request) {
	if h.servers == nil {
		h.writeError(w, "Rescan unavailable", "no server locator configured", http.StatusNotImplemented)
		return
	}
	res, err := h.engine.Rescan(r.Context(), h.servers.Find(domain.KindServer))
	if err != nil {
		h.fail(w, r, "Rescan failed", err)
		return
	}
	h.writeJSON(w, res, http.StatusOK)
}

// Reconcile runs one peripheral reconciliation pass
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if h.reconciler == nil {
		h.writeError(w, "Reconcile unavailable", "no reconciler configured", http.StatusNotImplemented)
		return
	}
	res, err := h.reconciler.ReconcileAll(r.Context())
	if err != nil {
		h.fail(w, r, "Reconcile failed", err)
		return
	}
	h.writeJSON(w, res, http.StatusOK)
}
