package service

import (
	"errors"
	"fmt"
	"time"

	"diskmesh/internal/domain"
	"diskmesh/internal/logging"
	"diskmesh/internal/repository"
)

var (
	// ErrPersistence matches every *PersistenceError.
	ErrPersistence = errors.New("persistence failure")
	// ErrInternal is returned when an operation panicked. No change occurred.
	ErrInternal = errors.New("internal error")

	ErrEmpty        = errors.New("coordinate is empty")
	ErrNotABay      = errors.New("not a bay")
	ErrSlotRange    = errors.New("slot index out of range")
	ErrSlotOccupied = errors.New("slot already holds a disk")
	ErrSlotEmpty    = errors.New("slot holds no disk")
	ErrDiskInUse    = errors.New("disk is inserted in a bay")
	ErrNotConnected = errors.New("peripheral is not connected to a valid network")
)

// PersistenceError reports a registry transaction that could not commit.
// The persisted state is unchanged.
type PersistenceError struct {
	Op        string
	NetworkID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s network %s: %v", e.Op, e.NetworkID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// Metrics receives service-level measurements.
type Metrics interface {
	ObserveOperation(op string, elapsed time.Duration, err error)
	SlotsRestored(n int)
	ObserveReconcile(res ReconcileResult, elapsed time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, time.Duration, error)   {}
func (nopMetrics) SlotsRestored(int)                               {}
func (nopMetrics) ObserveReconcile(ReconcileResult, time.Duration) {}

// Option customises a service component.
type Option func(*options)

type options struct {
	log         logging.Logger
	clock       Clock
	metrics     Metrics
	ledger      repository.ItemLedger
	cacheSize   int
	cacheTTL    time.Duration
	bayCapacity int
}

func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLedger replaces the store's own item ledger as the source of usedCells
// recounts.
func WithLedger(l repository.ItemLedger) Option {
	return func(o *options) { o.ledger = l }
}

// WithValidityCache sizes the registry's network validity cache. A size of
// zero disables it.
func WithValidityCache(size int, ttl time.Duration) Option {
	return func(o *options) {
		o.cacheSize = size
		o.cacheTTL = ttl
	}
}

// WithBayCapacity sets the number of slots per bay.
func WithBayCapacity(n int) Option {
	return func(o *options) { o.bayCapacity = n }
}

func buildOptions(opts []Option) options {
	o := options{
		log:         logging.Noop(),
		clock:       SystemClock,
		metrics:     nopMetrics{},
		cacheSize:   1024,
		cacheTTL:    5 * time.Minute,
		bayCapacity: domain.DefaultBayCapacity,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
