// Package service implements the stateful side of diskmesh.
//
// # Registry
//
// Registry owns the set of valid networks. RegisterNetwork and
// UnregisterNetwork each run under the per-id network lock and inside a
// single store transaction. Unregistering never deletes drive slots or
// disks: slots are retagged as orphans of the old id, and a later
// registration that includes the same bay coordinate restores them and
// recounts each disk from the item ledger.
//
// Locks are reentrant through the context: an operation that already holds
// the lock for an id may call back into the registry for that id.
// Notifications raised while a lock is held are buffered and delivered once
// the outermost lock has been released.
//
// # Reconciler
//
// Reconciler rebinds peripherals as the topology drifts. It runs on the
// scheduler and is eventually consistent.
//
// # Engine
//
// Engine is the entry point for world events: placements, removals,
// destruction, disk insertion and removal. Detection and the placement
// guard are advisory; the engine re-detects under the lock before it
// commits.
//
// # Events
//
// Notifier delivers OnNetworkInvalidated and OnNetworkMembersChanged to
// observers and to channel subscribers such as the SSE hub.
package service
