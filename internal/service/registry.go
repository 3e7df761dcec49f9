package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"diskmesh/internal/domain"
	"diskmesh/internal/logging"
	"diskmesh/internal/repository"
)

// Registry is the authority on which networks exist. Every mutation runs
// inside WithLock for its id and inside one store transaction.
type Registry struct {
	store    repository.Store
	notifier *Notifier
	locks    *lockTable
	options

	// cacheMu orders validity cache fills against register/unregister so
	// a lookup that raced a commit never caches the stale answer.
	cacheMu sync.Mutex
	cache   *expirable.LRU[string, bool]
	gen     uint64

	deferredMu sync.Mutex
	deferred   []string
}

// NewRegistry creates a registry over the store.
func NewRegistry(store repository.Store, notifier *Notifier, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		notifier: notifier,
		locks:    newLockTable(),
		options:  buildOptions(opts),
	}
	if r.cacheSize > 0 {
		r.cache = expirable.NewLRU[string, bool](r.cacheSize, nil, r.cacheTTL)
	}
	return r
}

// WithLock runs fn while holding the lock for id. Calls nested inside fn
// for an id the operation already holds do not block. Notifications raised
// inside fn are delivered after the outermost lock is released.
func (r *Registry) WithLock(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	if holdsLock(ctx, id) {
		return fn(ctx)
	}

	ob := outboxFrom(ctx)
	outermost := ob == nil
	inner := withHeldLock(ctx, id)
	if outermost {
		ob = &outbox{}
		inner = context.WithValue(inner, outboxKey{}, ob)
	}

	err := r.locked(inner, id, fn)

	if outermost {
		for _, ev := range ob.drain() {
			r.notifier.deliver(ctx, ev)
		}
	}
	return err
}

func (r *Registry) locked(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	entry := r.locks.acquire(id)
	defer r.locks.release(id, entry)
	return fn(ctx)
}

// RegisterNetwork records snap as a valid network owned by ownerID and
// restores any drive slots preserved at its bays. Bays that were members
// before but are missing from snap become standalone. Registering an
// unchanged snapshot only bumps last_accessed.
func (r *Registry) RegisterNetwork(ctx context.Context, snap *domain.NetworkSnapshot, ownerID string) error {
	start := time.Now()
	err := r.WithLock(ctx, snap.ID, func(ctx context.Context) error {
		var restored restoreResult
		var detached int
		err := r.store.InTx(ctx, func(tx repository.Store) error {
			before, err := tx.ListMembers(ctx, snap.ID)
			if err != nil {
				return err
			}
			if err := tx.UpsertNetwork(ctx, &domain.Network{
				ID:           snap.ID,
				Valid:        true,
				OwnerID:      ownerID,
				LastAccessed: r.clock.Now(),
			}); err != nil {
				return err
			}
			if err := tx.ReplaceMembers(ctx, snap.ID, snap.Members); err != nil {
				return err
			}
			for _, bay := range snap.Bays {
				res, err := r.restoreBay(ctx, tx, bay, snap.ID)
				if err != nil {
					return err
				}
				restored.add(res)
			}
			for _, bay := range droppedBays(before, snap) {
				n, err := r.detachBay(ctx, tx, bay, snap.ID)
				if err != nil {
					return err
				}
				detached += n
			}
			return nil
		})
		if err != nil {
			return &PersistenceError{Op: "register", NetworkID: snap.ID, Err: err}
		}
		if detached > 0 {
			r.log.Info(ctx, "detached drive slots from split bays",
				logging.String("network_id", snap.ID),
				logging.Int("slots", detached))
		}

		r.setValid(snap.ID, true)
		r.notifier.MembersChanged(ctx, snap.ID)
		if restored.changed() {
			r.metrics.SlotsRestored(restored.slots)
			r.deferRefresh(snap.ID)
			r.log.Info(ctx, "restored drive slots",
				logging.String("network_id", snap.ID),
				logging.Int("slots", restored.slots),
				logging.Int("disks", restored.disks))
		}
		r.log.Debug(ctx, "network registered",
			logging.String("network_id", snap.ID),
			logging.Int("members", len(snap.Members)))
		return nil
	})
	r.metrics.ObserveOperation("register", time.Since(start), err)
	return err
}

// UnregisterNetwork tears a network down. Drive slots and disks survive:
// slots are retagged as orphans of id and disks lose their affiliation.
func (r *Registry) UnregisterNetwork(ctx context.Context, id string) error {
	start := time.Now()
	err := r.WithLock(ctx, id, func(ctx context.Context) error {
		var existed bool
		var orphaned int64
		err := r.store.InTx(ctx, func(tx repository.Store) error {
			var err error
			if existed, err = tx.NetworkExists(ctx, id); err != nil {
				return err
			}
			if err := tx.DeleteMembers(ctx, id); err != nil {
				return err
			}
			if orphaned, err = tx.RetagSlots(ctx, domain.Attached(id), domain.Orphaned(id)); err != nil {
				return err
			}
			if _, err := tx.ClearDiskNetwork(ctx, id); err != nil {
				return err
			}
			return tx.DeleteNetwork(ctx, id)
		})
		if err != nil {
			return &PersistenceError{Op: "unregister", NetworkID: id, Err: err}
		}

		r.setValid(id, false)
		r.forgetDeferred(id)
		if existed {
			r.notifier.Invalidated(ctx, id)
			r.log.Debug(ctx, "network unregistered",
				logging.String("network_id", id),
				logging.Int("orphaned_slots", int(orphaned)))
		}
		return nil
	})
	r.metrics.ObserveOperation("unregister", time.Since(start), err)
	return err
}

// IsValid reports whether id names a registered network. Orphaned,
// standalone and unconnected references are never valid.
func (r *Registry) IsValid(ctx context.Context, id string) (bool, error) {
	ref, err := domain.ParseNetworkRef(id)
	if err != nil || !ref.IsAttached() {
		return false, nil
	}

	r.cacheMu.Lock()
	if r.cache != nil {
		if valid, ok := r.cache.Get(id); ok {
			r.cacheMu.Unlock()
			return valid, nil
		}
	}
	gen := r.gen
	r.cacheMu.Unlock()

	valid, err := r.store.NetworkExists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("check network %s: %w", id, err)
	}

	r.cacheMu.Lock()
	if r.cache != nil && r.gen == gen {
		r.cache.Add(id, valid)
	}
	r.cacheMu.Unlock()
	return valid, nil
}

// IsValidRef reports whether ref is attached to a registered network.
func (r *Registry) IsValidRef(ctx context.Context, ref domain.NetworkRef) (bool, error) {
	id, ok := ref.NetworkID()
	if !ok {
		return false, nil
	}
	return r.IsValid(ctx, id)
}

func (r *Registry) setValid(id string, valid bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.gen++
	if r.cache != nil {
		r.cache.Add(id, valid)
	}
}

// NetworkAt resolves the network a coordinate belongs to: core membership
// first, then the binding of a peripheral at that coordinate.
func (r *Registry) NetworkAt(ctx context.Context, c domain.Coordinate) (domain.NetworkRef, error) {
	id, ok, err := r.store.MemberAt(ctx, c)
	if err != nil {
		return domain.Unconnected(), err
	}
	if ok {
		return domain.Attached(id), nil
	}

	p, err := r.store.PeripheralAt(ctx, c)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Unconnected(), nil
	}
	if err != nil {
		return domain.Unconnected(), err
	}
	return p.Network, nil
}

// Network returns a registered network with its members.
func (r *Registry) Network(ctx context.Context, id string) (*domain.Network, error) {
	return r.store.GetNetwork(ctx, id)
}

// Networks lists every registered network.
func (r *Registry) Networks(ctx context.Context) ([]domain.Network, error) {
	return r.store.ListNetworks(ctx)
}

type restoreResult struct {
	slots int
	disks int
}

func (r *restoreResult) add(o restoreResult) {
	r.slots += o.slots
	r.disks += o.disks
}

func (r restoreResult) changed() bool { return r.slots > 0 || r.disks > 0 }

// restoreBay re-attaches everything stored at one bay to networkID. It is
// scoped to the physical bay, never to a previous network id, so a network
// rebuilt around a different server does not inherit another's disks
// unless it physically includes the same bay.
func (r *Registry) restoreBay(ctx context.Context, tx repository.Store, bay domain.Coordinate, networkID string) (restoreResult, error) {
	var res restoreResult

	n, err := tx.RetagSlotsAt(ctx, bay, domain.Attached(networkID))
	if err != nil {
		return res, err
	}
	res.slots = int(n)

	slots, err := tx.SlotsAt(ctx, bay)
	if err != nil {
		return res, err
	}

	// Recounts go through the transaction unless an external ledger is
	// configured.
	var ledger repository.ItemLedger = tx
	if r.ledger != nil {
		ledger = r.ledger
	}

	for _, slot := range slots {
		if slot.DiskID == "" {
			continue
		}
		disk, err := tx.GetDisk(ctx, slot.DiskID)
		if errors.Is(err, repository.ErrNotFound) {
			r.log.Debug(ctx, "slot references missing disk",
				logging.String("bay", bay.Key()),
				logging.Int("slot", slot.Index),
				logging.String("disk_id", slot.DiskID))
			continue
		}
		if err != nil {
			return res, err
		}

		changed, err := tx.SetDiskNetwork(ctx, disk.ID, networkID)
		if err != nil {
			return res, err
		}

		used, err := ledger.RecountUsedCells(ctx, disk.ID)
		if err != nil {
			return res, err
		}
		if used != disk.UsedCells {
			if err := tx.SetUsedCells(ctx, disk.ID, used); err != nil {
				return res, err
			}
			changed = true
		}
		if changed {
			res.disks++
		}
	}
	return res, nil
}

// droppedBays returns the bays in before that snap no longer contains.
func droppedBays(before []domain.Member, snap *domain.NetworkSnapshot) []domain.Coordinate {
	keep := make(map[domain.Coordinate]struct{}, len(snap.Bays))
	for _, b := range snap.Bays {
		keep[b] = struct{}{}
	}
	var dropped []domain.Coordinate
	for _, m := range before {
		if m.Kind != domain.KindBay {
			continue
		}
		if _, ok := keep[m.Coord]; !ok {
			dropped = append(dropped, m.Coord)
		}
	}
	return dropped
}

// detachBay makes the slots of a bay that left networkID standalone and
// clears the affiliation of the disks they hold. A bay already claimed by
// another network is left to that network's restore.
func (r *Registry) detachBay(ctx context.Context, tx repository.Store, bay domain.Coordinate, networkID string) (int, error) {
	if owner, ok, err := tx.MemberAt(ctx, bay); err != nil {
		return 0, err
	} else if ok && owner != networkID {
		return 0, nil
	}

	slots, err := tx.SlotsAt(ctx, bay)
	if err != nil {
		return 0, err
	}
	detached := 0
	for _, slot := range slots {
		if slot.Network != domain.Attached(networkID) {
			continue
		}
		slot.Network = domain.Standalone(bay)
		if err := tx.PutSlot(ctx, slot); err != nil {
			return detached, err
		}
		detached++
		if slot.DiskID == "" {
			continue
		}
		disk, err := tx.GetDisk(ctx, slot.DiskID)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return detached, err
		}
		if disk.NetworkID == networkID {
			if _, err := tx.SetDiskNetwork(ctx, disk.ID, ""); err != nil {
				return detached, err
			}
		}
	}
	return detached, nil
}

// deferRefresh queues a full observer refresh for the next FlushDeferred.
func (r *Registry) deferRefresh(id string) {
	r.deferredMu.Lock()
	defer r.deferredMu.Unlock()
	for _, cur := range r.deferred {
		if cur == id {
			return
		}
	}
	r.deferred = append(r.deferred, id)
}

func (r *Registry) forgetDeferred(id string) {
	r.deferredMu.Lock()
	defer r.deferredMu.Unlock()
	for i, cur := range r.deferred {
		if cur == id {
			r.deferred = append(r.deferred[:i], r.deferred[i+1:]...)
			return
		}
	}
}

// FlushDeferred delivers the refreshes queued by slot restoration. It runs
// on the scheduler tick, outside any registry call stack, and returns the
// number of networks refreshed.
func (r *Registry) FlushDeferred(ctx context.Context) (int, error) {
	r.deferredMu.Lock()
	pending := r.deferred
	r.deferred = nil
	r.deferredMu.Unlock()

	flushed := 0
	for i, id := range pending {
		valid, err := r.IsValid(ctx, id)
		if err != nil {
			for _, rest := range pending[i:] {
				r.deferRefresh(rest)
			}
			return flushed, err
		}
		if !valid {
			continue
		}
		r.notifier.MembersChanged(ctx, id)
		flushed++
	}
	return flushed, nil
}

// PendingRefreshes reports the number of queued deferred refreshes.
func (r *Registry) PendingRefreshes() int {
	r.deferredMu.Lock()
	defer r.deferredMu.Unlock()
	return len(r.deferred)
}

// ActiveLocks reports how many network locks are currently held or awaited.
func (r *Registry) ActiveLocks() int { return r.locks.size() }
