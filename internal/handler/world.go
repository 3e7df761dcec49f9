package handler

import (
	"net/http"

	"diskmesh/internal/domain"
)

// PlaceRequest is the body of POST /api/nodes.
type PlaceRequest struct {
	At      domain.Coordinate `json:"at"`
	Kind    domain.NodeKind   `json:"kind"`
	OwnerID string            `json:"owner_id"`
}

// DestroyRequest is the body of POST /api/destroy.
type DestroyRequest struct {
	Coords  []domain.Coordinate `json:"coords"`
	OwnerID string              `json:"owner_id"`
}

// PlaceNode places a node into the world
func (h *Handler) PlaceNode(w http.ResponseWriter, r *http.Request) {
	var req PlaceRequest
	if !h.decode(w, r, &req) {
		return
	}
	kind, err := domain.ParseNodeKind(string(req.Kind))
	if err != nil {
		h.writeError(w, "Invalid kind", err.Error(), http.StatusBadRequest)
		return
	}

	conflict, err := h.engine.Place(r.Context(), req.At, kind, req.OwnerID)
	if err != nil {
		h.fail(w, r, "Failed to place node", err)
		return
	}
	if conflict != nil {
		h.writeConflict(w, conflict)
		return
	}

	ref, err := h.engine.NetworkAt(r.Context(), req.At)
	if err != nil {
		h.fail(w, r, "Failed to resolve network", err)
		return
	}
	h.writeJSON(w, map[string]interface{}{
		"at":      req.At,
		"kind":    kind,
		"network": ref,
	}, http.StatusCreated)
}

// RemoveNode removes the node at a coordinate
func (h *Handler) RemoveNode(w http.ResponseWriter, r *http.Request) {
	at, ok := h.coordParam(w, r, "at")
	if !ok {
		return
	}
	res, err := h.engine.Remove(r.Context(), at, r.URL.Query().Get("owner_id"))
	if err != nil {
		h.fail(w, r, "Failed to remove node", err)
		return
	}
	h.writeJSON(w, res, http.StatusOK)
}

// Destroy removes a batch of coordinates as one event
func (h *Handler) Destroy(w http.ResponseWriter, r *http.Request) {
	var req DestroyRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.Destroy(r.Context(), req.Coords, req.OwnerID)
	if err != nil {
		h.fail(w, r, "Failed to destroy", err)
		return
	}
	h.writeJSON(w, res, http.StatusOK)
}
