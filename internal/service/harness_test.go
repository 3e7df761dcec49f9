package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"diskmesh/internal/domain"
	"diskmesh/internal/repository"
	"diskmesh/internal/repository/sqlite"
	"diskmesh/internal/spatial"
	"diskmesh/internal/topology"
)

func c(x int) domain.Coordinate { return domain.At(0, x, 64, 0) }

// above returns the coordinate one step up from x.
func above(x int) domain.Coordinate { return domain.At(0, x, 65, 0) }

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) OnNetworkInvalidated(_ context.Context, id string) { r.add("invalidated:" + id) }
func (r *recorder) OnNetworkMembersChanged(_ context.Context, id string) {
	r.add("members_changed:" + id)
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// stepClock advances one second per reading.
func stepClock() Clock {
	var n atomic.Int64
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return ClockFunc(func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Second)
	})
}

type harness struct {
	world      *spatial.Grid
	store      *sqlite.Store
	notifier   *Notifier
	registry   *Registry
	detector   *topology.Detector
	reconciler *Reconciler
	engine     *Engine
	events     *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return newHarnessWithStore(t, store, store)
}

func newHarnessWithStore(t *testing.T, s *sqlite.Store, store repository.Store) *harness {
	t.Helper()
	h := &harness{world: spatial.NewGrid(), store: s, events: &recorder{}}
	clock := WithClock(stepClock())

	h.notifier = NewNotifier(clock)
	h.notifier.Subscribe(h.events)
	h.registry = NewRegistry(store, h.notifier, clock)
	h.detector = topology.NewDetector(h.world)
	guard := topology.NewGuard(h.world, h.registry)
	h.reconciler = NewReconciler(store, h.registry, h.world, h.notifier, clock)
	h.engine = NewEngine(h.world, store, h.detector, guard, h.registry, h.reconciler, h.notifier, clock)
	return h
}

// place puts kinds along +X starting at x0 through the engine.
func (h *harness) place(t *testing.T, x0 int, kinds ...domain.NodeKind) {
	t.Helper()
	for i, k := range kinds {
		conflict, err := h.engine.Place(context.Background(), c(x0+i), k, "u1")
		require.NoError(t, err)
		require.Nil(t, conflict, "placing %s at %s", k, c(x0+i))
	}
}

// build places server, bay and terminal at x0..x0+2 and returns the id.
func (h *harness) build(t *testing.T, x0 int) string {
	t.Helper()
	h.place(t, x0, domain.KindServer, domain.KindBay, domain.KindTerminal)
	id := domain.NetworkID(c(x0))
	valid, err := h.registry.IsValid(context.Background(), id)
	require.NoError(t, err)
	require.True(t, valid)
	return id
}
