package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"diskmesh/internal/domain"
	"diskmesh/internal/service"
)

// ListSlots returns the drive slots of a bay
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	bay, ok := h.coordParam(w, r, "at")
	if !ok {
		return
	}
	slots, err := h.engine.Slots(r.Context(), bay)
	if err != nil {
		h.fail(w, r, "Failed to list slots", err)
		return
	}
	if slots == nil {
		slots = []domain.DriveSlot{}
	}
	h.writeJSON(w, slots, http.StatusOK)
}

// InsertDisk puts a disk into a bay slot, creating the disk on first use
func (h *Handler) InsertDisk(w http.ResponseWriter, r *http.Request) {
	bay, index, ok := h.slotParams(w, r)
	if !ok {
		return
	}
	var spec service.DiskSpec
	if !h.decode(w, r, &spec) {
		return
	}
	disk, err := h.engine.InsertDisk(r.Context(), bay, index, spec)
	if err != nil {
		h.fail(w, r, "Failed to insert disk", err)
		return
	}
	h.writeJSON(w, disk, http.StatusOK)
}

// RemoveDisk takes the disk out of a bay slot
func (h *Handler) RemoveDisk(w http.ResponseWriter, r *http.Request) {
	bay, index, ok := h.slotParams(w, r)
	if !ok {
		return
	}
	disk, err := h.engine.RemoveDisk(r.Context(), bay, index)
	if err != nil {
		h.fail(w, r, "Failed to remove disk", err)
		return
	}
	h.writeJSON(w, disk, http.StatusOK)
}

// GetDisk returns one disk
func (h *Handler) GetDisk(w http.ResponseWriter, r *http.Request) {
	disk, err := h.engine.Disk(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get disk", err)
		return
	}
	h.writeJSON(w, disk, http.StatusOK)
}

// PurgeDisk destroys a disk that is not in any slot
func (h *Handler) PurgeDisk(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.PurgeDisk(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "Failed to purge disk", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) slotParams(w http.ResponseWriter, r *http.Request) (domain.Coordinate, int, bool) {
	bay, ok := h.coordParam(w, r, "at")
	if !ok {
		return domain.Coordinate{}, 0, false
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.writeError(w, "Invalid slot index", err.Error(), http.StatusBadRequest)
		return domain.Coordinate{}, 0, false
	}
	return bay, index, true
}
