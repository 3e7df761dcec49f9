package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"diskmesh/internal/domain"
	"diskmesh/internal/logging"
	"diskmesh/internal/repository"
	"diskmesh/internal/spatial"
)

// ReconcileAction is what one reconciliation did to a peripheral.
type ReconcileAction string

const (
	ActionNone         ReconcileAction = "none"
	ActionRebound      ReconcileAction = "rebound"
	ActionDisconnected ReconcileAction = "disconnected"
	ActionDisabled     ReconcileAction = "disabled"
)

// ReconcileResult summarises one pass over all peripherals.
type ReconcileResult struct {
	Checked      int `json:"checked"`
	Rebound      int `json:"rebound"`
	Disconnected int `json:"disconnected"`
	Disabled     int `json:"disabled"`
	Failed       int `json:"failed"`
}

func (r *ReconcileResult) record(a ReconcileAction) {
	switch a {
	case ActionRebound:
		r.Rebound++
	case ActionDisconnected:
		r.Disconnected++
	case ActionDisabled:
		r.Disabled++
	}
}

// Reconciler keeps peripheral bindings in line with the physical topology.
// It is eventually consistent: each pass fixes what it finds and the next
// pass picks up anything that changed meanwhile.
type Reconciler struct {
	store    repository.PeripheralStore
	registry *Registry
	index    spatial.Index
	notifier *Notifier
	options
}

// NewReconciler creates a reconciler
func NewReconciler(store repository.PeripheralStore, registry *Registry, index spatial.Index, notifier *Notifier, opts ...Option) *Reconciler {
	return &Reconciler{
		store:    store,
		registry: registry,
		index:    index,
		notifier: notifier,
		options:  buildOptions(opts),
	}
}

// ReconcileAll checks every peripheral once. A failure on one peripheral is
// logged and does not stop the pass.
func (r *Reconciler) ReconcileAll(ctx context.Context) (ReconcileResult, error) {
	start := time.Now()
	var res ReconcileResult

	peripherals, err := r.store.ListPeripherals(ctx)
	if err != nil {
		return res, fmt.Errorf("list peripherals: %w", err)
	}

	affected := make(map[string]struct{})
	for i := range peripherals {
		p := &peripherals[i]
		before := p.Network
		action, err := r.reconcile(ctx, p)
		res.Checked++
		if err != nil {
			res.Failed++
			r.log.Warn(ctx, "failed to reconcile peripheral",
				logging.String("peripheral_id", p.ID),
				logging.Err(err))
			continue
		}
		res.record(action)
		if action != ActionNone {
			collectIDs(affected, before, p.Network)
		}
	}

	for _, id := range sortedSet(affected) {
		r.notifier.MembersChanged(ctx, id)
	}

	r.metrics.ObserveReconcile(res, time.Since(start))
	if res.Rebound+res.Disconnected+res.Disabled > 0 {
		r.log.Info(ctx, "reconciled peripherals",
			logging.Int("checked", res.Checked),
			logging.Int("rebound", res.Rebound),
			logging.Int("disconnected", res.Disconnected),
			logging.Int("disabled", res.Disabled))
	}
	return res, nil
}

// ReconcileOne checks a single peripheral, persists any change and notifies
// the networks it left or joined. p is updated in place.
func (r *Reconciler) ReconcileOne(ctx context.Context, p *domain.Peripheral) (ReconcileAction, error) {
	before := p.Network
	action, err := r.reconcile(ctx, p)
	if err != nil || action == ActionNone {
		return action, err
	}
	affected := make(map[string]struct{})
	collectIDs(affected, before, p.Network)
	for _, id := range sortedSet(affected) {
		r.notifier.MembersChanged(ctx, id)
	}
	return action, nil
}

func (r *Reconciler) reconcile(ctx context.Context, p *domain.Peripheral) (ReconcileAction, error) {
	valid, err := r.registry.IsValidRef(ctx, p.Network)
	if err != nil {
		return ActionNone, err
	}

	var action ReconcileAction
	switch {
	case !valid:
		// Stale or missing binding: pick any adjacent valid network.
		id, found, err := r.adjacentNetwork(ctx, p.Coord, "")
		if err != nil {
			return ActionNone, err
		}
		switch {
		case found:
			p.Network = domain.Attached(id)
			restore(p)
			action = ActionRebound
		case p.Network.Kind() != domain.RefUnconnected || p.Enabled:
			p.Network = domain.Unconnected()
			autoDisable(p)
			action = ActionDisconnected
		default:
			return ActionNone, nil
		}

	default:
		id, _ := p.Network.NetworkID()
		touching, err := r.touches(ctx, p.Coord, id)
		if err != nil {
			return ActionNone, err
		}
		if touching {
			if !p.AutoDisabled {
				return ActionNone, nil
			}
			// Plugged back into the network it was unplugged from.
			restore(p)
			action = ActionRebound
			break
		}
		// Unplugged from a network that still exists.
		other, found, err := r.adjacentNetwork(ctx, p.Coord, id)
		if err != nil {
			return ActionNone, err
		}
		if found {
			// A different network needs an explicit enable.
			p.Network = domain.Attached(other)
			p.Enabled = false
			p.AutoDisabled = false
			action = ActionRebound
		} else if p.Enabled {
			autoDisable(p)
			action = ActionDisabled
		} else {
			return ActionNone, nil
		}
	}

	if err := r.store.UpsertPeripheral(ctx, p); err != nil {
		return ActionNone, err
	}
	r.log.Debug(ctx, "peripheral reconciled",
		logging.String("peripheral_id", p.ID),
		logging.String("action", string(action)),
		logging.String("network", p.Network.String()),
		logging.Bool("enabled", p.Enabled))
	return action, nil
}

// autoDisable switches p off, remembering whether it was on.
func autoDisable(p *domain.Peripheral) {
	if p.Enabled {
		p.AutoDisabled = true
	}
	p.Enabled = false
}

// restore switches p back on if the reconciler was what switched it off.
func restore(p *domain.Peripheral) {
	if p.AutoDisabled {
		p.Enabled = true
		p.AutoDisabled = false
	}
}

// adjacentNetwork returns the first valid network registered at a core
// neighbour of c, skipping exclude. Neighbours are checked in a fixed order.
func (r *Reconciler) adjacentNetwork(ctx context.Context, c domain.Coordinate, exclude string) (string, bool, error) {
	for _, n := range r.index.Neighbors(c) {
		kind, ok := r.index.KindAt(n)
		if !ok || !kind.IsCore() {
			continue
		}
		ref, err := r.registry.NetworkAt(ctx, n)
		if err != nil {
			return "", false, err
		}
		id, ok := ref.NetworkID()
		if !ok || id == exclude {
			continue
		}
		valid, err := r.registry.IsValid(ctx, id)
		if err != nil {
			return "", false, err
		}
		if valid {
			return id, true, nil
		}
	}
	return "", false, nil
}

// touches reports whether any core neighbour of c is registered to id.
func (r *Reconciler) touches(ctx context.Context, c domain.Coordinate, id string) (bool, error) {
	for _, n := range r.index.Neighbors(c) {
		kind, ok := r.index.KindAt(n)
		if !ok || !kind.IsCore() {
			continue
		}
		ref, err := r.registry.NetworkAt(ctx, n)
		if err != nil {
			return false, err
		}
		if got, ok := ref.NetworkID(); ok && got == id {
			return true, nil
		}
	}
	return false, nil
}

func collectIDs(set map[string]struct{}, refs ...domain.NetworkRef) {
	for _, ref := range refs {
		if id, ok := ref.NetworkID(); ok {
			set[id] = struct{}{}
		}
	}
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
