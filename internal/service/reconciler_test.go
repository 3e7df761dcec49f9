package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diskmesh/internal/domain"
)

func TestReconcilerConvergence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.build(t, 0)

	conflict, err := h.engine.Place(ctx, above(0), domain.KindExporter, "u1")
	require.NoError(t, err)
	require.Nil(t, conflict)

	p, err := h.store.PeripheralAt(ctx, above(0))
	require.NoError(t, err)
	assert.Equal(t, domain.Attached(id), p.Network)
	assert.True(t, p.Enabled)

	// Break the network.
	res, err := h.engine.Remove(ctx, c(2), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, res.Unregistered)

	rr, err := h.reconciler.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rr.Disconnected)

	p, err = h.store.PeripheralAt(ctx, above(0))
	require.NoError(t, err)
	assert.Equal(t, domain.RefUnconnected, p.Network.Kind())
	assert.False(t, p.Enabled)
	assert.True(t, p.AutoDisabled)

	_, err = h.engine.SetPeripheralEnabled(ctx, p.ID, true)
	assert.ErrorIs(t, err, ErrNotConnected)

	// A second pass changes nothing.
	rr, err = h.reconciler.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Checked: 1}, rr)

	// Rebuild: the binding and the enabled state come back on their own.
	h.place(t, 2, domain.KindTerminal)
	rr, err = h.reconciler.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rr.Rebound)

	p, err = h.store.PeripheralAt(ctx, above(0))
	require.NoError(t, err)
	assert.Equal(t, domain.Attached(id), p.Network)
	assert.True(t, p.Enabled)
	assert.False(t, p.AutoDisabled)
}

func TestReconcilerKeepsManualDisable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.build(t, 0)

	conflict, err := h.engine.Place(ctx, above(0), domain.KindExporter, "u1")
	require.NoError(t, err)
	require.Nil(t, conflict)
	p, err := h.store.PeripheralAt(ctx, above(0))
	require.NoError(t, err)

	_, err = h.engine.SetPeripheralEnabled(ctx, p.ID, false)
	require.NoError(t, err)

	_, err = h.engine.Remove(ctx, c(2), "u1")
	require.NoError(t, err)
	_, err = h.reconciler.ReconcileAll(ctx)
	require.NoError(t, err)

	h.place(t, 2, domain.KindTerminal)
	rr, err := h.reconciler.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rr.Rebound)

	p, err = h.store.PeripheralAt(ctx, above(0))
	require.NoError(t, err)
	assert.True(t, p.Network.IsAttached())
	assert.False(t, p.Enabled)
}

func TestReconcilerDisablesUnpluggedPeripheral(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.build(t, 0)

	// Bound to a valid network but sitting nowhere near it.
	far := c(40)
	h.world.Set(far, domain.KindExporter)
	p := &domain.Peripheral{
		ID: "p1", Kind: domain.KindExporter, Coord: far,
		Network: domain.Attached(id), Enabled: true, Filters: []string{"gold"},
	}
	require.NoError(t, h.store.UpsertPeripheral(ctx, p))

	h.events.reset()
	action, err := h.reconciler.ReconcileOne(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, ActionDisabled, action)

	got, err := h.store.GetPeripheral(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, domain.Attached(id), got.Network)
	assert.Equal(t, []string{"gold"}, got.Filters)
	assert.Equal(t, []string{"members_changed:" + id}, h.events.snapshot())

	action, err = h.reconciler.ReconcileOne(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, action)

	// Plugged back in next to the terminal.
	h.world.Remove(far)
	got.Coord = above(2)
	h.world.Set(got.Coord, domain.KindExporter)
	action, err = h.reconciler.ReconcileOne(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, ActionRebound, action)
	assert.True(t, got.Enabled)
	assert.Equal(t, domain.Attached(id), got.Network)
}

func TestReconcilerRebindsToOtherAdjacentNetwork(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.build(t, 0)
	b := h.build(t, 10)

	// Sits next to b's terminal but is bound to a.
	at := above(12)
	h.world.Set(at, domain.KindImporter)
	p := &domain.Peripheral{ID: "p1", Kind: domain.KindImporter, Coord: at, Network: domain.Attached(a), Enabled: true}
	require.NoError(t, h.store.UpsertPeripheral(ctx, p))

	action, err := h.reconciler.ReconcileOne(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, ActionRebound, action)
	assert.Equal(t, domain.Attached(b), p.Network)
	assert.False(t, p.Enabled)
}

type metricsSpy struct {
	nopMetrics
	reconciles []ReconcileResult
}

func (m *metricsSpy) ObserveReconcile(res ReconcileResult, _ time.Duration) {
	m.reconciles = append(m.reconciles, res)
}

func TestReconcileAllReportsMetrics(t *testing.T) {
	h := newHarness(t)
	spy := &metricsSpy{}
	r := NewReconciler(h.store, h.registry, h.world, h.notifier, WithMetrics(spy))

	_, err := r.ReconcileAll(context.Background())
	require.NoError(t, err)
	require.Len(t, spy.reconciles, 1)
	assert.Zero(t, spy.reconciles[0].Checked)
}
