// Package domain defines the core types of the diskmesh topology engine.
//
// # Core Types
//
// Coordinate addresses a cell in a sparse 3D integer space. NodeKind classifies
// what occupies it: core kinds (server, bay, terminal, cable) form the
// connectivity graph, peripheral kinds (exporter, importer, security terminal)
// attach next to it.
//
// A network is a connected set of core nodes holding exactly one server, at
// least one bay and at least one terminal. Its id is derived from the server
// coordinate, so rebuilding the same structure yields the same id.
//
// NetworkRef replaces bare id strings in slots and peripherals. It is one of
// Attached(id), Orphaned(oldID), Standalone(bay) or Unconnected, and persists
// as "<id>", "orphaned:<id>", "standalone:<coord>" or "UNCONNECTED".
//
// # Storage
//
// DriveSlot and Disk are persisted separately: slots belong to a bay
// coordinate, disks survive any number of teardowns and are only deleted by
// administrative action.
//
// # Design Principles
//
// - Value types for coordinates and refs
// - No database or external dependencies
package domain
