package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/google/uuid"

	"diskmesh/internal/domain"
	"diskmesh/internal/logging"
	"diskmesh/internal/repository"
	"diskmesh/internal/spatial"
	"diskmesh/internal/topology"
)

// Engine is the entry point for world events. It vets placements, mutates
// the world, and keeps the registry and peripheral bindings in step.
type Engine struct {
	world      spatial.World
	store      repository.Store
	detector   *topology.Detector
	guard      *topology.Guard
	registry   *Registry
	reconciler *Reconciler
	notifier   *Notifier
	options
}

// NewEngine wires an engine. The detector and guard must read the same
// world the engine mutates.
func NewEngine(
	world spatial.World,
	store repository.Store,
	detector *topology.Detector,
	guard *topology.Guard,
	registry *Registry,
	reconciler *Reconciler,
	notifier *Notifier,
	opts ...Option,
) *Engine {
	return &Engine{
		world:      world,
		store:      store,
		detector:   detector,
		guard:      guard,
		registry:   registry,
		reconciler: reconciler,
		notifier:   notifier,
		options:    buildOptions(opts),
	}
}

// DiskSpec describes a disk being inserted. An empty ID creates a new disk.
type DiskSpec struct {
	ID        string      `json:"id,omitempty"`
	OwnerID   string      `json:"owner_id"`
	OwnerName string      `json:"owner_name"`
	Tier      domain.Tier `json:"tier"`
}

// Removal describes one node taken out of the world.
type Removal struct {
	At           domain.Coordinate  `json:"at"`
	Kind         domain.NodeKind    `json:"kind"`
	Peripheral   *domain.Peripheral `json:"peripheral,omitempty"`
	EjectedDisks []string           `json:"ejected_disks,omitempty"`
}

// RemoveResult reports what a removal did to the world and the registry.
type RemoveResult struct {
	Removed      []Removal `json:"removed"`
	Registered   []string  `json:"registered,omitempty"`
	Unregistered []string  `json:"unregistered,omitempty"`
}

// RescanResult reports a startup validation pass.
type RescanResult struct {
	Registered   []string `json:"registered"`
	Unregistered []string `json:"unregistered"`
}

// Place puts kind at the coordinate. A non-nil Conflict means the placement
// was refused and nothing changed.
func (e *Engine) Place(ctx context.Context, at domain.Coordinate, kind domain.NodeKind, ownerID string) (conflict *domain.Conflict, err error) {
	defer e.track(ctx, "place", time.Now(), &err)

	conflict, err = e.guard.CheckPlacement(ctx, at, kind)
	if err != nil {
		return nil, fmt.Errorf("check placement: %w", err)
	}
	if conflict != nil {
		return conflict, nil
	}

	if kind.IsPeripheral() {
		e.world.Set(at, kind)
		p := &domain.Peripheral{
			ID:        uuid.NewString(),
			Kind:      kind,
			Coord:     at,
			Network:   domain.Unconnected(),
			Enabled:   true,
			CreatedAt: e.clock.Now(),
		}
		if err := e.store.UpsertPeripheral(ctx, p); err != nil {
			e.world.Remove(at)
			return nil, fmt.Errorf("save peripheral: %w", err)
		}
		if _, err := e.reconciler.ReconcileOne(ctx, p); err != nil {
			// The next reconcile pass binds it.
			e.log.Warn(ctx, "failed to bind new peripheral",
				logging.String("peripheral_id", p.ID),
				logging.Err(err))
		}
		return nil, nil
	}

	prior := make(map[string]struct{})
	if err := e.collectPrior(ctx, prior, at); err != nil {
		return nil, err
	}
	err = e.withLocks(ctx, sortedSet(prior), func(ctx context.Context) error {
		e.world.Set(at, kind)
		if conflict = e.verifyPlacement(ctx, at, kind, prior); conflict != nil {
			e.world.Remove(at)
			e.log.Warn(ctx, "placement refused at commit",
				logging.String("at", at.Key()),
				logging.String("reason", string(conflict.Reason)))
			return nil
		}
		if _, _, err := e.recompute(ctx, []domain.Coordinate{at}, prior, ownerID); err != nil {
			e.world.Remove(at)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conflict, nil
}

// verifyPlacement re-detects from a node that has just been set. The guard
// runs unlocked and may have passed a placement that now joins two servers
// or grows a network past the scan limit.
func (e *Engine) verifyPlacement(ctx context.Context, at domain.Coordinate, kind domain.NodeKind, prior map[string]struct{}) *domain.Conflict {
	det := e.detector.Inspect(ctx, at)
	conflict := &domain.Conflict{At: at, Kind: kind}
	if len(prior) > 0 {
		conflict.Networks = sortedSet(prior)
	}
	switch {
	case det.Outcome == topology.OutcomeAmbiguousServer && len(prior) > 1:
		conflict.Reason = domain.ReasonMergeNetworks
	case det.Outcome == topology.OutcomeAmbiguousServer:
		conflict.Reason = domain.ReasonDuplicateServer
	case det.Outcome == topology.OutcomeTooLarge && len(prior) > 0:
		conflict.Reason = domain.ReasonScanLimit
	default:
		return nil
	}
	return conflict
}

// withLocks runs fn holding the lock of every id, taken in the order given.
func (e *Engine) withLocks(ctx context.Context, ids []string, fn func(ctx context.Context) error) error {
	if len(ids) == 0 {
		return fn(ctx)
	}
	return e.registry.WithLock(ctx, ids[0], func(ctx context.Context) error {
		return e.withLocks(ctx, ids[1:], fn)
	})
}

// Remove takes the node at the coordinate out of the world.
func (e *Engine) Remove(ctx context.Context, at domain.Coordinate, ownerID string) (res RemoveResult, err error) {
	defer e.track(ctx, "remove", time.Now(), &err)

	if _, ok := e.world.KindAt(at); !ok {
		return res, ErrEmpty
	}
	return e.destroy(ctx, []domain.Coordinate{at}, ownerID)
}

// Destroy removes every occupied coordinate in the batch, then recomputes
// the affected networks once. Empty coordinates are ignored.
func (e *Engine) Destroy(ctx context.Context, coords []domain.Coordinate, ownerID string) (res RemoveResult, err error) {
	defer e.track(ctx, "destroy", time.Now(), &err)
	return e.destroy(ctx, coords, ownerID)
}

func (e *Engine) destroy(ctx context.Context, coords []domain.Coordinate, ownerID string) (RemoveResult, error) {
	var res RemoveResult

	removed := make(map[domain.Coordinate]struct{}, len(coords))
	prior := make(map[string]struct{})
	for _, at := range coords {
		if _, ok := e.world.KindAt(at); !ok {
			continue
		}
		removed[at] = struct{}{}
		if err := e.collectPrior(ctx, prior, at); err != nil {
			return res, err
		}
	}

	var seeds []domain.Coordinate
	for _, at := range coords {
		if _, ok := removed[at]; !ok {
			continue
		}
		kind, ok := e.world.Remove(at)
		if !ok {
			continue
		}
		removal, err := e.detach(ctx, at, kind)
		if err != nil {
			return res, err
		}
		res.Removed = append(res.Removed, removal)

		if kind.IsCore() {
			for _, n := range e.world.Neighbors(at) {
				seeds = append(seeds, n)
			}
		}
	}

	registered, unregistered, err := e.recompute(ctx, seeds, prior, ownerID)
	res.Registered, res.Unregistered = registered, unregistered
	return res, err
}

// collectPrior records the networks at and around a coordinate before it
// changes.
func (e *Engine) collectPrior(ctx context.Context, prior map[string]struct{}, at domain.Coordinate) error {
	neighbors := e.world.Neighbors(at)
	coords := append([]domain.Coordinate{at}, neighbors[:]...)
	for _, c := range coords {
		ref, err := e.registry.NetworkAt(ctx, c)
		if err != nil {
			return fmt.Errorf("resolve network at %s: %w", c, err)
		}
		if id, ok := ref.NetworkID(); ok {
			prior[id] = struct{}{}
		}
	}
	return nil
}

// detach clears persisted state owned by a node that left the world.
func (e *Engine) detach(ctx context.Context, at domain.Coordinate, kind domain.NodeKind) (Removal, error) {
	removal := Removal{At: at, Kind: kind}

	switch {
	case kind.IsPeripheral():
		p, err := e.store.PeripheralAt(ctx, at)
		if errors.Is(err, repository.ErrNotFound) {
			return removal, nil
		}
		if err != nil {
			return removal, err
		}
		if err := e.store.DeletePeripheral(ctx, p.ID); err != nil {
			return removal, err
		}
		removal.Peripheral = p
		if id, ok := p.Network.NetworkID(); ok {
			e.notifier.MembersChanged(ctx, id)
		}

	case kind == domain.KindBay:
		ref, err := e.registry.NetworkAt(ctx, at)
		if err != nil {
			return removal, err
		}
		eject := func(ctx context.Context) error {
			return e.store.InTx(ctx, func(tx repository.Store) error {
				slots, err := tx.SlotsAt(ctx, at)
				if err != nil {
					return err
				}
				for _, slot := range slots {
					if slot.DiskID == "" {
						continue
					}
					if _, err := tx.SetDiskNetwork(ctx, slot.DiskID, ""); err != nil {
						return err
					}
					removal.EjectedDisks = append(removal.EjectedDisks, slot.DiskID)
				}
				_, err = tx.DeleteSlotsAt(ctx, at)
				return err
			})
		}
		if id, ok := ref.NetworkID(); ok {
			err = e.registry.WithLock(ctx, id, eject)
		} else {
			err = eject(ctx)
		}
		if err != nil {
			return removal, &PersistenceError{Op: "eject", NetworkID: ref.String(), Err: err}
		}
		if len(removal.EjectedDisks) > 0 {
			e.log.Info(ctx, "bay removed, disks ejected",
				logging.String("bay", at.Key()),
				logging.Int("disks", len(removal.EjectedDisks)))
		}
	}
	return removal, nil
}

// recompute detects from every seed, registers what is valid, and
// unregisters prior networks that were not reproduced.
func (e *Engine) recompute(ctx context.Context, seeds []domain.Coordinate, prior map[string]struct{}, ownerID string) (registered, unregistered []string, err error) {
	found := make(map[string]*domain.NetworkSnapshot)
	for _, seed := range seeds {
		if snap := e.detector.Detect(ctx, seed); snap != nil {
			found[snap.ID] = snap
		}
	}

	for _, id := range sortedSnapshotIDs(found) {
		ok, err := e.commit(ctx, found[id], ownerID)
		if err != nil {
			return registered, unregistered, err
		}
		if ok {
			registered = append(registered, id)
		}
	}

	for _, id := range sortedSet(prior) {
		if _, ok := found[id]; ok {
			continue
		}
		gone, err := e.retire(ctx, id)
		if err != nil {
			return registered, unregistered, err
		}
		if gone {
			unregistered = append(unregistered, id)
		}
	}
	return registered, unregistered, nil
}

// commit re-detects under the network lock before registering, since the
// unlocked detection may be stale. It reports whether the network was
// registered.
func (e *Engine) commit(ctx context.Context, snap *domain.NetworkSnapshot, ownerID string) (bool, error) {
	registered := false
	err := e.registry.WithLock(ctx, snap.ID, func(ctx context.Context) error {
		fresh := e.detector.Detect(ctx, snap.Server)
		if fresh == nil || fresh.ID != snap.ID {
			return nil
		}
		registered = true
		return e.registry.RegisterNetwork(ctx, fresh, ownerID)
	})
	return registered, err
}

// retire unregisters id if its server no longer anchors a valid network.
func (e *Engine) retire(ctx context.Context, id string) (bool, error) {
	retired := false
	err := e.registry.WithLock(ctx, id, func(ctx context.Context) error {
		if server, err := domain.ServerOf(id); err == nil {
			if snap := e.detector.Detect(ctx, server); snap != nil && snap.ID == id {
				return nil
			}
		}
		valid, err := e.registry.IsValid(ctx, id)
		if err != nil {
			return err
		}
		if !valid {
			return nil
		}
		retired = true
		return e.registry.UnregisterNetwork(ctx, id)
	})
	return retired, err
}

// InsertDisk puts a disk into a bay slot, creating the disk on first use.
func (e *Engine) InsertDisk(ctx context.Context, bay domain.Coordinate, index int, spec DiskSpec) (disk *domain.Disk, err error) {
	defer e.track(ctx, "insert_disk", time.Now(), &err)

	if kind, ok := e.world.KindAt(bay); !ok || kind != domain.KindBay {
		return nil, ErrNotABay
	}
	if index < 0 || index >= e.bayCapacity {
		return nil, ErrSlotRange
	}

	ref, err := e.bayRef(ctx, bay)
	if err != nil {
		return nil, err
	}
	networkID, _ := ref.NetworkID()

	insert := func(ctx context.Context) error {
		return e.store.InTx(ctx, func(tx repository.Store) error {
			slot, err := tx.GetSlot(ctx, bay, index)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			if slot != nil && slot.DiskID != "" {
				return ErrSlotOccupied
			}

			if spec.ID == "" {
				spec.ID = uuid.NewString()
			}
			disk, err = tx.GetDisk(ctx, spec.ID)
			switch {
			case errors.Is(err, repository.ErrNotFound):
				tier := spec.Tier
				if tier == 0 {
					tier = domain.Tier1
				}
				disk = &domain.Disk{
					ID:        spec.ID,
					OwnerID:   spec.OwnerID,
					OwnerName: spec.OwnerName,
					Tier:      tier,
					MaxCells:  tier.MaxCells(),
					NetworkID: networkID,
					CreatedAt: e.clock.Now(),
				}
				if err := tx.CreateDisk(ctx, disk); err != nil {
					return err
				}
			case err != nil:
				return err
			default:
				inUse, err := tx.SlotsForDisk(ctx, disk.ID)
				if err != nil {
					return err
				}
				if len(inUse) > 0 {
					return ErrDiskInUse
				}
				if _, err := tx.SetDiskNetwork(ctx, disk.ID, networkID); err != nil {
					return err
				}
				disk.NetworkID = networkID
			}

			if err := tx.PutSlot(ctx, domain.DriveSlot{Bay: bay, Index: index, Network: ref, DiskID: disk.ID}); err != nil {
				return err
			}
			used, err := e.recount(ctx, tx, disk.ID)
			if err != nil {
				return err
			}
			disk.UsedCells = used
			return tx.SetUsedCells(ctx, disk.ID, used)
		})
	}

	if err := e.underBay(ctx, networkID, insert); err != nil {
		disk = nil
		return nil, err
	}
	return disk, nil
}

// RemoveDisk takes the disk out of a slot. The slot row and the disk row
// both remain.
func (e *Engine) RemoveDisk(ctx context.Context, bay domain.Coordinate, index int) (disk *domain.Disk, err error) {
	defer e.track(ctx, "remove_disk", time.Now(), &err)

	ref, err := e.bayRef(ctx, bay)
	if err != nil {
		return nil, err
	}
	networkID, _ := ref.NetworkID()

	remove := func(ctx context.Context) error {
		return e.store.InTx(ctx, func(tx repository.Store) error {
			slot, err := tx.GetSlot(ctx, bay, index)
			if errors.Is(err, repository.ErrNotFound) {
				return ErrSlotEmpty
			}
			if err != nil {
				return err
			}
			if slot.DiskID == "" {
				return ErrSlotEmpty
			}
			if disk, err = tx.GetDisk(ctx, slot.DiskID); err != nil {
				return err
			}
			slot.DiskID = ""
			if err := tx.PutSlot(ctx, *slot); err != nil {
				return err
			}
			if _, err := tx.SetDiskNetwork(ctx, disk.ID, ""); err != nil {
				return err
			}
			disk.NetworkID = ""
			return nil
		})
	}

	if err := e.underBay(ctx, networkID, remove); err != nil {
		disk = nil
		return nil, err
	}
	return disk, nil
}

// bayRef is the reference a slot in the bay should carry right now.
func (e *Engine) bayRef(ctx context.Context, bay domain.Coordinate) (domain.NetworkRef, error) {
	ref, err := e.registry.NetworkAt(ctx, bay)
	if err != nil {
		return ref, err
	}
	valid, err := e.registry.IsValidRef(ctx, ref)
	if err != nil {
		return ref, err
	}
	if !valid {
		return domain.Standalone(bay), nil
	}
	return ref, nil
}

// underBay runs fn under the network lock when the bay belongs to one and
// notifies the network afterwards.
func (e *Engine) underBay(ctx context.Context, networkID string, fn func(ctx context.Context) error) error {
	if networkID == "" {
		return fn(ctx)
	}
	return e.registry.WithLock(ctx, networkID, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		e.notifier.MembersChanged(ctx, networkID)
		return nil
	})
}

func (e *Engine) recount(ctx context.Context, tx repository.Store, diskID string) (int, error) {
	if e.ledger != nil {
		return e.ledger.RecountUsedCells(ctx, diskID)
	}
	return tx.RecountUsedCells(ctx, diskID)
}

// SetPeripheralEnabled switches a peripheral on or off. Only a peripheral
// bound to a valid network can be switched on.
func (e *Engine) SetPeripheralEnabled(ctx context.Context, id string, enabled bool) (p *domain.Peripheral, err error) {
	defer e.track(ctx, "set_peripheral_enabled", time.Now(), &err)

	p, err = e.store.GetPeripheral(ctx, id)
	if err != nil {
		return nil, err
	}
	if enabled {
		valid, err := e.registry.IsValidRef(ctx, p.Network)
		if err != nil {
			return nil, err
		}
		if !valid {
			return nil, ErrNotConnected
		}
	}
	if p.Enabled == enabled && !p.AutoDisabled {
		return p, nil
	}
	p.Enabled = enabled
	p.AutoDisabled = false
	if err := e.store.UpsertPeripheral(ctx, p); err != nil {
		return nil, err
	}
	if nid, ok := p.Network.NetworkID(); ok {
		e.notifier.MembersChanged(ctx, nid)
	}
	return p, nil
}

// Rescan validates persisted networks against the world, typically at
// startup: every server is detected afresh and persisted networks that are
// not reproduced are torn down.
func (e *Engine) Rescan(ctx context.Context, servers []domain.Coordinate) (res RescanResult, err error) {
	defer e.track(ctx, "rescan", time.Now(), &err)

	persisted, err := e.registry.Networks(ctx)
	if err != nil {
		return res, fmt.Errorf("list networks: %w", err)
	}
	prior := make(map[string]struct{}, len(persisted))
	for _, n := range persisted {
		prior[n.ID] = struct{}{}
	}
	owners := make(map[string]string, len(persisted))
	for _, n := range persisted {
		owners[n.ID] = n.OwnerID
	}

	found := make(map[string]*domain.NetworkSnapshot)
	for _, s := range servers {
		if snap := e.detector.Detect(ctx, s); snap != nil {
			found[snap.ID] = snap
		}
	}
	for _, id := range sortedSnapshotIDs(found) {
		ok, err := e.commit(ctx, found[id], owners[id])
		if err != nil {
			return res, err
		}
		if ok {
			res.Registered = append(res.Registered, id)
		}
	}
	for _, id := range sortedSet(prior) {
		if _, ok := found[id]; ok {
			continue
		}
		gone, err := e.retire(ctx, id)
		if err != nil {
			return res, err
		}
		if gone {
			res.Unregistered = append(res.Unregistered, id)
		}
	}

	e.log.Info(ctx, "rescan complete",
		logging.Int("registered", len(res.Registered)),
		logging.Int("unregistered", len(res.Unregistered)))
	return res, nil
}

// PurgeDisk destroys a disk and its contents. A disk still sitting in a
// slot cannot be purged.
func (e *Engine) PurgeDisk(ctx context.Context, id string) (err error) {
	defer e.track(ctx, "purge_disk", time.Now(), &err)

	return e.store.InTx(ctx, func(tx repository.Store) error {
		if _, err := tx.GetDisk(ctx, id); err != nil {
			return err
		}
		slots, err := tx.SlotsForDisk(ctx, id)
		if err != nil {
			return err
		}
		if len(slots) > 0 {
			return ErrDiskInUse
		}
		return tx.DeleteDisk(ctx, id)
	})
}

// OrphanedSlots lists slots preserved from networks that were torn down.
func (e *Engine) OrphanedSlots(ctx context.Context) ([]domain.DriveSlot, error) {
	return e.store.OrphanedSlots(ctx)
}

// Inspect runs a detection without changing anything.
func (e *Engine) Inspect(ctx context.Context, at domain.Coordinate) topology.Detection {
	return e.detector.Inspect(ctx, at)
}

// CheckPlacement runs the guard without changing anything.
func (e *Engine) CheckPlacement(ctx context.Context, at domain.Coordinate, kind domain.NodeKind) (*domain.Conflict, error) {
	return e.guard.CheckPlacement(ctx, at, kind)
}

// NetworkAt resolves the network ref a coordinate belongs to.
func (e *Engine) NetworkAt(ctx context.Context, at domain.Coordinate) (domain.NetworkRef, error) {
	return e.registry.NetworkAt(ctx, at)
}

func (e *Engine) Network(ctx context.Context, id string) (*domain.Network, error) {
	return e.registry.Network(ctx, id)
}

func (e *Engine) Networks(ctx context.Context) ([]domain.Network, error) {
	return e.registry.Networks(ctx)
}

func (e *Engine) Peripherals(ctx context.Context) ([]domain.Peripheral, error) {
	return e.store.ListPeripherals(ctx)
}

func (e *Engine) Disk(ctx context.Context, id string) (*domain.Disk, error) {
	return e.store.GetDisk(ctx, id)
}

func (e *Engine) Slots(ctx context.Context, bay domain.Coordinate) ([]domain.DriveSlot, error) {
	return e.store.SlotsAt(ctx, bay)
}

// track records the outcome of an operation and turns a panic into
// ErrInternal.
func (e *Engine) track(ctx context.Context, op string, start time.Time, errp *error) {
	if r := recover(); r != nil {
		e.log.Error(ctx, "operation panicked",
			logging.String("op", op),
			logging.Any("panic", r),
			logging.String("stack", string(debug.Stack())))
		*errp = fmt.Errorf("%w: %s", ErrInternal, op)
	}
	e.metrics.ObserveOperation(op, time.Since(start), *errp)
}

func sortedSnapshotIDs(m map[string]*domain.NetworkSnapshot) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
