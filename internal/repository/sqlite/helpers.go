package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"diskmesh/internal/domain"
)

// ============================================================================
// Null Type Conversion Helpers
// ============================================================================

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// stringToNull safely converts string to sql.NullString
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Timestamps are stored as unix nanoseconds so they survive the round trip
// through any driver unchanged.
func timeToUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func unixToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// ============================================================================
// JSON Marshaling Helpers
// ============================================================================

// unmarshalJSONField safely unmarshals JSON from nullable string into target
func unmarshalJSONField(ns sql.NullString, target any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), target)
}

// marshalFilters stores an empty filter list as NULL.
func marshalFilters(filters []string) (sql.NullString, error) {
	if len(filters) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(filters)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// ============================================================================
// Row Scanners
// ============================================================================
//
// Column order must match between the *Columns constant, scanArgs() and
// every SELECT that uses the constant.

type networkRow struct {
	ID           string
	Valid        int64
	OwnerID      sql.NullString
	LastAccessed int64
}

func (r *networkRow) scanArgs() []any {
	return []any{&r.ID, &r.Valid, &r.OwnerID, &r.LastAccessed}
}

func (r *networkRow) toDomain() *domain.Network {
	return &domain.Network{
		ID:           r.ID,
		Valid:        r.Valid != 0,
		OwnerID:      nullToString(r.OwnerID),
		LastAccessed: unixToTime(r.LastAccessed),
	}
}

const networkColumns = `id, valid, owner_id, last_accessed`

type memberRow struct {
	Space, X, Y, Z int
	Kind           string
}

func (r *memberRow) scanArgs() []any {
	return []any{&r.Space, &r.X, &r.Y, &r.Z, &r.Kind}
}

func (r *memberRow) toDomain() domain.Member {
	return domain.Member{Coord: domain.At(r.Space, r.X, r.Y, r.Z), Kind: domain.NodeKind(r.Kind)}
}

const memberColumns = `space, x, y, z, kind`

type slotRow struct {
	Space, X, Y, Z int
	Index          int
	NetworkRef     string
	DiskID         sql.NullString
}

func (r *slotRow) scanArgs() []any {
	return []any{&r.Space, &r.X, &r.Y, &r.Z, &r.Index, &r.NetworkRef, &r.DiskID}
}

func (r *slotRow) toDomain() (domain.DriveSlot, error) {
	ref, err := domain.ParseNetworkRef(r.NetworkRef)
	if err != nil {
		return domain.DriveSlot{}, fmt.Errorf("slot network ref: %w", err)
	}
	return domain.DriveSlot{
		Bay:     domain.At(r.Space, r.X, r.Y, r.Z),
		Index:   r.Index,
		Network: ref,
		DiskID:  nullToString(r.DiskID),
	}, nil
}

const slotColumns = `space, x, y, z, slot_index, network_ref, disk_id`

type diskRow struct {
	ID        string
	OwnerID   string
	OwnerName string
	Tier      int
	UsedCells int
	MaxCells  int
	NetworkID sql.NullString
	CreatedAt int64
}

func (r *diskRow) scanArgs() []any {
	return []any{&r.ID, &r.OwnerID, &r.OwnerName, &r.Tier, &r.UsedCells, &r.MaxCells, &r.NetworkID, &r.CreatedAt}
}

func (r *diskRow) toDomain() *domain.Disk {
	return &domain.Disk{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		OwnerName: r.OwnerName,
		Tier:      domain.Tier(r.Tier),
		UsedCells: r.UsedCells,
		MaxCells:  r.MaxCells,
		NetworkID: nullToString(r.NetworkID),
		CreatedAt: unixToTime(r.CreatedAt),
	}
}

const diskColumns = `id, owner_id, owner_name, tier, used_cells, max_cells, network_id, created_at`

type peripheralRow struct {
	ID             string
	Kind           string
	Space, X, Y, Z int
	NetworkRef     string
	Enabled        int64
	AutoDisabled   int64
	FiltersJSON    sql.NullString
	CreatedAt      int64
}

func (r *peripheralRow) scanArgs() []any {
	return []any{&r.ID, &r.Kind, &r.Space, &r.X, &r.Y, &r.Z, &r.NetworkRef, &r.Enabled, &r.AutoDisabled, &r.FiltersJSON, &r.CreatedAt}
}

func (r *peripheralRow) toDomain() (*domain.Peripheral, error) {
	ref, err := domain.ParseNetworkRef(r.NetworkRef)
	if err != nil {
		return nil, fmt.Errorf("peripheral network ref: %w", err)
	}
	p := &domain.Peripheral{
		ID:        r.ID,
		Kind:      domain.NodeKind(r.Kind),
		Coord:     domain.At(r.Space, r.X, r.Y, r.Z),
		Network:   ref,
		Enabled:      r.Enabled != 0,
		AutoDisabled: r.AutoDisabled != 0,
		CreatedAt:    unixToTime(r.CreatedAt),
	}
	if err := unmarshalJSONField(r.FiltersJSON, &p.Filters); err != nil {
		return nil, fmt.Errorf("unmarshal filters: %w", err)
	}
	return p, nil
}

const peripheralColumns = `id, kind, space, x, y, z, network_ref, enabled, auto_disabled, filters, created_at`
