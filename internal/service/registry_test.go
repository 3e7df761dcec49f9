package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diskmesh/internal/domain"
	"diskmesh/internal/repository"
	"diskmesh/internal/repository/sqlite"
)

func TestOrphanRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.build(t, 0)

	_, err := h.engine.InsertDisk(ctx, c(1), 0, DiskSpec{ID: "d1", OwnerID: "u1", OwnerName: "alice", Tier: domain.Tier1})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, h.store.AdjustItem(ctx, "d1", fmt.Sprintf("item-%d", i), 10))
	}
	require.NoError(t, h.store.SetUsedCells(ctx, "d1", 5))

	require.NoError(t, h.registry.UnregisterNetwork(ctx, id))

	slot, err := h.store.GetSlot(ctx, c(1), 0)
	require.NoError(t, err)
	assert.Equal(t, domain.Orphaned(id), slot.Network)
	assert.Equal(t, "d1", slot.DiskID)

	disk, err := h.store.GetDisk(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, disk.NetworkID)
	assert.Equal(t, 5, disk.UsedCells)

	// The ledger moves on while the network is down.
	require.NoError(t, h.store.AdjustItem(ctx, "d1", "item-5", 1))

	snap := h.detector.Detect(ctx, c(1))
	require.NotNil(t, snap)
	require.NoError(t, h.registry.RegisterNetwork(ctx, snap, "u1"))

	slot, err = h.store.GetSlot(ctx, c(1), 0)
	require.NoError(t, err)
	assert.Equal(t, domain.Attached(id), slot.Network)

	disk, err = h.store.GetDisk(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, id, disk.NetworkID)
	assert.Equal(t, 6, disk.UsedCells, "used cells must come from the ledger")

	require.Equal(t, 1, h.registry.PendingRefreshes())
	h.events.reset()
	n, err := h.registry.FlushDeferred(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"members_changed:" + id}, h.events.snapshot())
	assert.Zero(t, h.registry.PendingRefreshes())
}

func TestRestorationIsScopedToBay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	oldID := h.build(t, 0)

	_, err := h.engine.InsertDisk(ctx, c(1), 0, DiskSpec{ID: "d1", OwnerID: "u1"})
	require.NoError(t, err)

	res, err := h.engine.Remove(ctx, c(0), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{oldID}, res.Unregistered)

	// A network elsewhere does not pick up the orphaned slot.
	h.build(t, 20)
	slot, err := h.store.GetSlot(ctx, c(1), 0)
	require.NoError(t, err)
	assert.Equal(t, domain.Orphaned(oldID), slot.Network)

	// A new server anchoring the same bay does.
	conflict, err := h.engine.Place(ctx, above(1), domain.KindServer, "u2")
	require.NoError(t, err)
	require.Nil(t, conflict)

	newID := domain.NetworkID(above(1))
	slot, err = h.store.GetSlot(ctx, c(1), 0)
	require.NoError(t, err)
	assert.Equal(t, domain.Attached(newID), slot.Network)

	disk, err := h.store.GetDisk(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, newID, disk.NetworkID)
}

func TestRegisterIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.build(t, 0)

	before, err := h.store.GetNetwork(ctx, id)
	require.NoError(t, err)

	snap := h.detector.Detect(ctx, c(0))
	require.NoError(t, h.registry.RegisterNetwork(ctx, snap, "u1"))
	require.NoError(t, h.registry.RegisterNetwork(ctx, snap, "u1"))

	after, err := h.store.GetNetwork(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Members, after.Members)
	assert.Equal(t, before.OwnerID, after.OwnerID)
	assert.True(t, after.LastAccessed.After(before.LastAccessed))
	assert.Zero(t, h.registry.PendingRefreshes())
}

func TestIsValid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.build(t, 0)

	for _, sentinel := range []string{"", "UNCONNECTED", "orphaned:" + id, "standalone:0:1:64:0", "net_9_9_9_9"} {
		valid, err := h.registry.IsValid(ctx, sentinel)
		require.NoError(t, err)
		assert.False(t, valid, sentinel)
	}

	valid, err := h.registry.IsValid(ctx, id)
	require.NoError(t, err)
	assert.True(t, valid)

	require.NoError(t, h.registry.UnregisterNetwork(ctx, id))
	valid, err = h.registry.IsValid(ctx, id)
	require.NoError(t, err)
	assert.False(t, valid, "cache must follow unregister")
}

func TestNetworkAt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.build(t, 0)

	ref, err := h.registry.NetworkAt(ctx, c(2))
	require.NoError(t, err)
	assert.Equal(t, domain.Attached(id), ref)

	conflict, err := h.engine.Place(ctx, above(0), domain.KindImporter, "u1")
	require.NoError(t, err)
	require.Nil(t, conflict)
	ref, err = h.registry.NetworkAt(ctx, above(0))
	require.NoError(t, err)
	assert.Equal(t, domain.Attached(id), ref)

	ref, err = h.registry.NetworkAt(ctx, c(50))
	require.NoError(t, err)
	assert.Equal(t, domain.RefUnconnected, ref.Kind())
}

func TestWithLockDeliversAfterRelease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.registry.WithLock(ctx, "net_x", func(ctx context.Context) error {
		h.notifier.MembersChanged(ctx, "net_x")
		assert.Empty(t, h.events.snapshot())
		// Reentrant: the same operation may lock the same id again.
		return h.registry.WithLock(ctx, "net_x", func(ctx context.Context) error {
			h.notifier.Invalidated(ctx, "net_x")
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"members_changed:net_x", "invalidated:net_x"}, h.events.snapshot())
	assert.Zero(t, h.registry.ActiveLocks())
}

func TestObserverMayLockDuringCallback(t *testing.T) {
	h := newHarness(t)

	acquired := make(chan bool, 8)
	h.notifier.Subscribe(ObserverFuncs{
		MembersChanged: func(_ context.Context, id string) {
			done := make(chan struct{})
			go func() {
				_ = h.registry.WithLock(context.Background(), id, func(context.Context) error { return nil })
				close(done)
			}()
			select {
			case <-done:
				acquired <- true
			case <-time.After(2 * time.Second):
				acquired <- false
			}
		},
	})

	id := h.build(t, 0)
	require.NotEmpty(t, id)
	select {
	case ok := <-acquired:
		assert.True(t, ok, "observer ran while the network lock was held")
	default:
		t.Fatal("observer was not called")
	}
}

func TestLockSerialization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.build(t, 0)
	_, err := h.engine.InsertDisk(ctx, c(1), 0, DiskSpec{ID: "d1", OwnerID: "u1"})
	require.NoError(t, err)
	snap := h.detector.Detect(ctx, c(0))
	require.NotNil(t, snap)

	for i := 0; i < 20; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.registry.RegisterNetwork(ctx, snap, "u1"))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, h.registry.UnregisterNetwork(ctx, id))
		}()
		wg.Wait()

		exists, err := h.store.NetworkExists(ctx, id)
		require.NoError(t, err)
		members, err := h.store.ListMembers(ctx, id)
		require.NoError(t, err)
		slot, err := h.store.GetSlot(ctx, c(1), 0)
		require.NoError(t, err)
		disk, err := h.store.GetDisk(ctx, "d1")
		require.NoError(t, err)
		valid, err := h.registry.IsValid(ctx, id)
		require.NoError(t, err)

		assert.Equal(t, exists, valid)
		if exists {
			assert.Len(t, members, 3)
			assert.Equal(t, domain.Attached(id), slot.Network)
			assert.Equal(t, id, disk.NetworkID)
		} else {
			assert.Empty(t, members)
			assert.Equal(t, domain.Orphaned(id), slot.Network)
			assert.Empty(t, disk.NetworkID)
		}
	}
	assert.Zero(t, h.registry.ActiveLocks())
}

var errBoom = errors.New("boom")

// failingStore fails RetagSlots on demand, inside or outside a transaction.
type failingStore struct {
	repository.Store
	fail *bool
}

func (f *failingStore) InTx(ctx context.Context, fn func(repository.Store) error) error {
	return f.Store.InTx(ctx, func(tx repository.Store) error {
		return fn(&failingStore{Store: tx, fail: f.fail})
	})
}

func (f *failingStore) RetagSlots(ctx context.Context, from, to domain.NetworkRef) (int64, error) {
	if *f.fail {
		return 0, errBoom
	}
	return f.Store.RetagSlots(ctx, from, to)
}

func TestUnregisterFailureLeavesStateIntact(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fail := false
	h := newHarnessWithStore(t, store, &failingStore{Store: store, fail: &fail})
	ctx := context.Background()
	id := h.build(t, 0)
	h.events.reset()

	fail = true
	err = h.registry.UnregisterNetwork(ctx, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, errBoom)

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "unregister", pe.Op)
	assert.Equal(t, id, pe.NetworkID)

	members, err := store.ListMembers(ctx, id)
	require.NoError(t, err)
	assert.Len(t, members, 3, "deleted members must be rolled back")

	valid, err := h.registry.IsValid(ctx, id)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Empty(t, h.events.snapshot())
	assert.Zero(t, h.registry.ActiveLocks())
}
