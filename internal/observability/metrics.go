// Package observability exposes diskmesh Prometheus metrics.
package observability

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"diskmesh/internal/domain"
	"diskmesh/internal/service"
)

// Collector bundles the engine metrics. It satisfies both topology.Metrics
// and service.Metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Detections         *prometheus.HistogramVec
	Rejections         *prometheus.CounterVec
	Operations         *prometheus.CounterVec
	OperationDurations *prometheus.HistogramVec
	Restored           prometheus.Counter
	Reconciled         *prometheus.CounterVec
	ReconcileDuration  prometheus.Histogram
}

// NewCollector registers metrics against reg, defaulting to the global
// registry when nil. Registering twice on the same registry reuses the
// existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.Detections, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "diskmesh_detection_duration_seconds",
		Help:    "Topology detection latency, labeled by outcome.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if c.Rejections, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "diskmesh_placement_rejections_total",
		Help: "Placements refused by the conflict guard, labeled by reason.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if c.Operations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "diskmesh_operations_total",
		Help: "Engine operations, labeled by operation and result.",
	}, []string{"op", "result"})); err != nil {
		return nil, err
	}
	if c.OperationDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "diskmesh_operation_duration_seconds",
		Help:    "Engine operation latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})); err != nil {
		return nil, err
	}
	if c.Restored, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "diskmesh_slots_restored_total",
		Help: "Orphaned drive slots reattached to a rebuilt network.",
	})); err != nil {
		return nil, err
	}
	if c.Reconciled, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "diskmesh_reconciled_peripherals_total",
		Help: "Peripheral reconciliation outcomes, labeled by action.",
	}, []string{"action"})); err != nil {
		return nil, err
	}
	if c.ReconcileDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "diskmesh_reconcile_duration_seconds",
		Help:    "Full reconciliation pass latency in seconds.",
		Buckets: prometheus.DefBuckets,
	})); err != nil {
		return nil, err
	}
	return c, nil
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveDetection(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Detections.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (c *Collector) PlacementRejected(reason string) {
	if c == nil {
		return
	}
	c.Rejections.WithLabelValues(reason).Inc()
}

func (c *Collector) ObserveOperation(op string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	c.Operations.WithLabelValues(op, resultLabel(err)).Inc()
	c.OperationDurations.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (c *Collector) SlotsRestored(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.Restored.Add(float64(n))
}

func (c *Collector) ObserveReconcile(res service.ReconcileResult, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Reconciled.WithLabelValues("rebound").Add(float64(res.Rebound))
	c.Reconciled.WithLabelValues("disconnected").Add(float64(res.Disconnected))
	c.Reconciled.WithLabelValues("disabled").Add(float64(res.Disabled))
	c.Reconciled.WithLabelValues("failed").Add(float64(res.Failed))
	c.ReconcileDuration.Observe(elapsed.Seconds())
}

// resultLabel keeps the label set small: ok, conflict, persistence, internal
// or error.
func resultLabel(err error) string {
	var conflict *domain.Conflict
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.Is(err, service.ErrPersistence):
		return "persistence"
	case errors.Is(err, service.ErrInternal):
		return "internal"
	default:
		return "error"
	}
}

// register adds col to reg, returning the already registered collector of
// the same type when there is one.
func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		var zero T
		return zero, err
	}
	return col, nil
}
