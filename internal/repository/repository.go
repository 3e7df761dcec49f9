package repository

import (
	"context"
	"errors"

	"diskmesh/internal/domain"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

// NetworkStore persists network rows and their membership.
type NetworkStore interface {
	UpsertNetwork(ctx context.Context, n *domain.Network) error
	GetNetwork(ctx context.Context, id string) (*domain.Network, error)
	NetworkExists(ctx context.Context, id string) (bool, error)
	ListNetworks(ctx context.Context) ([]domain.Network, error)
	DeleteNetwork(ctx context.Context, id string) error

	// ReplaceMembers swaps the full member set of a network. A coordinate
	// belongs to at most one network, so members claimed by another id move.
	ReplaceMembers(ctx context.Context, networkID string, members []domain.Member) error
	ListMembers(ctx context.Context, networkID string) ([]domain.Member, error)
	DeleteMembers(ctx context.Context, networkID string) error
	// MemberAt returns the network a core coordinate is registered to.
	MemberAt(ctx context.Context, c domain.Coordinate) (string, bool, error)
}

// SlotStore persists drive slots. Slot rows are only deleted when their bay
// is removed from the world.
type SlotStore interface {
	PutSlot(ctx context.Context, slot domain.DriveSlot) error
	GetSlot(ctx context.Context, bay domain.Coordinate, index int) (*domain.DriveSlot, error)
	SlotsAt(ctx context.Context, bay domain.Coordinate) ([]domain.DriveSlot, error)
	SlotsForDisk(ctx context.Context, diskID string) ([]domain.DriveSlot, error)
	OrphanedSlots(ctx context.Context) ([]domain.DriveSlot, error)
	DeleteSlot(ctx context.Context, bay domain.Coordinate, index int) error
	DeleteSlotsAt(ctx context.Context, bay domain.Coordinate) (int64, error)

	// RetagSlots rewrites every slot holding from to hold to.
	RetagSlots(ctx context.Context, from, to domain.NetworkRef) (int64, error)
	// RetagSlotsAt rewrites every slot of the bay that does not already hold
	// to.
	RetagSlotsAt(ctx context.Context, bay domain.Coordinate, to domain.NetworkRef) (int64, error)
}

// DiskStore persists disks independently of slots and networks.
type DiskStore interface {
	CreateDisk(ctx context.Context, d *domain.Disk) error
	GetDisk(ctx context.Context, id string) (*domain.Disk, error)
	ListDisks(ctx context.Context) ([]domain.Disk, error)
	// SetDiskNetwork reports whether the stored network id changed.
	SetDiskNetwork(ctx context.Context, id, networkID string) (bool, error)
	// ClearDiskNetwork detaches every disk affiliated with the network.
	ClearDiskNetwork(ctx context.Context, networkID string) (int64, error)
	SetUsedCells(ctx context.Context, id string, used int) error
	DeleteDisk(ctx context.Context, id string) error
}

// PeripheralStore persists exporters, importers and security terminals.
type PeripheralStore interface {
	UpsertPeripheral(ctx context.Context, p *domain.Peripheral) error
	GetPeripheral(ctx context.Context, id string) (*domain.Peripheral, error)
	PeripheralAt(ctx context.Context, c domain.Coordinate) (*domain.Peripheral, error)
	ListPeripherals(ctx context.Context) ([]domain.Peripheral, error)
	DeletePeripheral(ctx context.Context, id string) error
}

// ItemLedger is the authoritative record of what a disk stores.
type ItemLedger interface {
	// RecountUsedCells returns the number of distinct item keys the disk
	// currently holds.
	RecountUsedCells(ctx context.Context, diskID string) (int, error)
}

// ItemStore is the writable side of the ledger.
type ItemStore interface {
	ItemLedger
	// AdjustItem adds delta to the stored quantity of key, never below zero.
	AdjustItem(ctx context.Context, diskID, key string, delta int64) error
	Items(ctx context.Context, diskID string) (map[string]int64, error)
}

// Store is the full persistence surface.
type Store interface {
	NetworkStore
	SlotStore
	DiskStore
	PeripheralStore
	ItemStore

	// InTx runs fn inside one transaction. fn must only use the Store it is
	// given. The transaction commits when fn returns nil and rolls back
	// otherwise.
	InTx(ctx context.Context, fn func(Store) error) error

	Close() error
}
