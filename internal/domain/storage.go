package domain

import "time"

// Tier is the capacity class of a disk.
type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
	Tier3 Tier = 3
	Tier4 Tier = 4
)

// cellsPerTier is the number of distinct item types a tier-1 disk holds.
const cellsPerTier = 27

// MaxCells returns the cell capacity for the tier. Unknown tiers fall back
// to tier 1.
func (t Tier) MaxCells() int {
	if t < Tier1 || t > Tier4 {
		return cellsPerTier
	}
	return int(t) * cellsPerTier
}

// DefaultBayCapacity is the number of slots in a bay.
const DefaultBayCapacity = 7

// DriveSlot is a slot in a bay that may hold a disk.
type DriveSlot struct {
	Bay     Coordinate `json:"bay"`
	Index   int        `json:"index"`
	Network NetworkRef `json:"network"`
	DiskID  string     `json:"disk_id,omitempty"`
}

// Disk is persisted independently of the bay or network holding it.
// UsedCells is a cache of the ledger's recount and is never authoritative.
type Disk struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	OwnerName string    `json:"owner_name"`
	Tier      Tier      `json:"tier"`
	UsedCells int       `json:"used_cells"`
	MaxCells  int       `json:"max_cells"`
	NetworkID string    `json:"network_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
