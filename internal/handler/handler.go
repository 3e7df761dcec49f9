package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"diskmesh/internal/domain"
	"diskmesh/internal/logging"
	"diskmesh/internal/repository"
	"diskmesh/internal/service"
)

// ServerLocator finds the servers a rescan should start from.
type ServerLocator interface {
	Find(kind domain.NodeKind) []domain.Coordinate
}

// Handler serves the engine over HTTP.
type Handler struct {
	engine     *service.Engine
	reconciler *service.Reconciler
	servers    ServerLocator
	events     http.Handler
	metrics    http.Handler
	log        logging.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithEvents mounts an SSE stream at /events.
func WithEvents(h http.Handler) Option {
	return func(hd *Handler) { hd.events = h }
}

// WithMetrics mounts a metrics handler at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(hd *Handler) { hd.metrics = h }
}

// WithLogger sets the request logger.
func WithLogger(l logging.Logger) Option {
	return func(hd *Handler) {
		if l != nil {
			hd.log = l
		}
	}
}

// New creates a handler.
func New(engine *service.Engine, reconciler *service.Reconciler, servers ServerLocator, opts ...Option) *Handler {
	h := &Handler{
		engine:     engine,
		reconciler: reconciler,
		servers:    servers,
		log:        logging.Noop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	if h.events != nil {
		r.Handle("/events", h.events)
	}
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/networks", h.ListNetworks)
		r.Get("/networks/{id}", h.GetNetwork)
		r.Get("/inspect", h.Inspect)
		r.Get("/check", h.CheckPlacement)

		r.Post("/nodes", h.PlaceNode)
		r.Delete("/nodes/{at}", h.RemoveNode)
		r.Post("/destroy", h.Destroy)

		r.Get("/bays/{at}/slots", h.ListSlots)
		r.Put("/bays/{at}/slots/{index}", h.InsertDisk)
		r.Delete("/bays/{at}/slots/{index}", h.RemoveDisk)

		r.Get("/disks/{id}", h.GetDisk)
		r.Delete("/disks/{id}", h.PurgeDisk)

		r.Get("/peripherals", h.ListPeripherals)
		r.Put("/peripherals/{id}/enabled", h.SetPeripheralEnabled)

		r.Get("/orphans", h.ListOrphans)
		r.Post("/rescan", h.Rescan)
		r.Post("/reconcile", h.Reconcile)
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug(r.Context(), "request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.String("request_id", middleware.GetReqID(r.Context())),
			logging.Any("elapsed", time.Since(start)))
	})
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error    string           `json:"error"`
	Details  string           `json:"details,omitempty"`
	Conflict *domain.Conflict `json:"conflict,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Warn(context.Background(), "failed to encode response", logging.Err(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	h.writeJSON(w, ErrorResponse{Error: error, Details: details}, statusCode)
}

// fail maps an engine error onto a status code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var conflict *domain.Conflict
	if errors.As(err, &conflict) {
		h.writeConflict(w, conflict)
		return
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(r.Context(), msg, logging.Err(err), logging.String("path", r.URL.Path))
	}
	h.writeError(w, msg, err.Error(), status)
}

func (h *Handler) writeConflict(w http.ResponseWriter, c *domain.Conflict) {
	h.writeJSON(w, ErrorResponse{
		Error:    "placement refused",
		Details:  c.Message(),
		Conflict: c,
	}, http.StatusConflict)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrEmpty),
		errors.Is(err, service.ErrSlotEmpty):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotABay), errors.Is(err, service.ErrSlotRange):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrSlotOccupied), errors.Is(err, service.ErrDiskInUse),
		errors.Is(err, service.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, service.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// coordParam parses a coordinate from a path parameter or, failing that, a
// query parameter of the same name.
func (h *Handler) coordParam(w http.ResponseWriter, r *http.Request, name string) (domain.Coordinate, bool) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		raw = r.URL.Query().Get(name)
	}
	if raw == "" {
		h.writeError(w, "Missing coordinate", name+" is required", http.StatusBadRequest)
		return domain.Coordinate{}, false
	}
	c, err := domain.ParseCoordinate(raw)
	if err != nil {
		h.writeError(w, "Invalid coordinate", err.Error(), http.StatusBadRequest)
		return domain.Coordinate{}, false
	}
	return c, true
}
