package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"diskmesh/internal/domain"
	"diskmesh/internal/topology"
)

// DetectionResponse is the JSON form of a topology detection.
type DetectionResponse struct {
	Outcome  string                  `json:"outcome"`
	Snapshot *domain.NetworkSnapshot `json:"snapshot,omitempty"`
	Servers  []domain.Coordinate     `json:"servers,omitempty"`
	Visited  int                     `json:"visited"`
}

func newDetectionResponse(d topology.Detection) DetectionResponse {
	return DetectionResponse{
		Outcome:  d.Outcome.String(),
		Snapshot: d.Snapshot,
		Servers:  d.Servers,
		Visited:  d.Visited,
	}
}

// ListNetworks returns every registered network
func (h *Handler) ListNetworks(w http.ResponseWriter, r *http.Request) {
	networks, err := h.engine.Networks(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list networks", err)
		return
	}
	if networks == nil {
		networks = []domain.Network{}
	}
	h.writeJSON(w, networks, http.StatusOK)
}

// GetNetwork returns one network with its members
func (h *Handler) GetNetwork(w http.ResponseWriter, r *http.Request) {
	network, err := h.engine.Network(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get network", err)
		return
	}
	h.writeJSON(w, network, http.StatusOK)
}

// Inspect runs a detection from a coordinate without registering anything
func (h *Handler) Inspect(w http.ResponseWriter, r *http.Request) {
	at, ok := h.coordParam(w, r, "at")
	if !ok {
		return
	}
	h.writeJSON(w, newDetectionResponse(h.engine.Inspect(r.Context(), at)), http.StatusOK)
}

// CheckPlacement reports whether a placement would be accepted
func (h *Handler) CheckPlacement(w http.ResponseWriter, r *http.Request) {
	at, ok := h.coordParam(w, r, "at")
	if !ok {
		return
	}
	kind, err := domain.ParseNodeKind(r.URL.Query().Get("kind"))
	if err != nil {
		h.writeError(w, "Invalid kind", err.Error(), http.StatusBadRequest)
		return
	}

	conflict, err := h.engine.CheckPlacement(r.Context(), at, kind)
	if err != nil {
		h.fail(w, r, "Failed to check placement", err)
		return
	}
	if conflict != nil {
		h.writeConflict(w, conflict)
		return
	}
	h.writeJSON(w, map[string]bool{"allowed": true}, http.StatusOK)
}
