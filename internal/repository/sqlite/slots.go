package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"diskmesh/internal/domain"
	"diskmesh/internal/repository"
)

// PutSlot inserts or replaces a slot.
func (s *Store) PutSlot(ctx context.Context, slot domain.DriveSlot) error {
	b := slot.Bay
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO drive_slots (space, x, y, z, slot_index, network_ref, disk_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(space, x, y, z, slot_index) DO UPDATE SET
			network_ref = excluded.network_ref,
			disk_id = excluded.disk_id
	`, b.Space, b.X, b.Y, b.Z, slot.Index, slot.Network.String(), stringToNull(slot.DiskID))
	if err != nil {
		return fmt.Errorf("put slot %s#%d: %w", b, slot.Index, err)
	}
	return nil
}

func (s *Store) GetSlot(ctx context.Context, bay domain.Coordinate, index int) (*domain.DriveSlot, error) {
	var row slotRow
	err := s.q.QueryRowContext(ctx, `
		SELECT `+slotColumns+` FROM drive_slots
		WHERE space = ? AND x = ? AND y = ? AND z = ? AND slot_index = ?
	`, bay.Space, bay.X, bay.Y, bay.Z, index).Scan(row.scanArgs()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get slot %s#%d: %w", bay, index, err)
	}
	slot, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// SlotsAt returns the slots of one bay ordered by index.
func (s *Store) SlotsAt(ctx context.Context, bay domain.Coordinate) ([]domain.DriveSlot, error) {
	return s.querySlots(ctx, `
		SELECT `+slotColumns+` FROM drive_slots
		WHERE space = ? AND x = ? AND y = ? AND z = ?
		ORDER BY slot_index
	`, bay.Space, bay.X, bay.Y, bay.Z)
}

func (s *Store) SlotsForDisk(ctx context.Context, diskID string) ([]domain.DriveSlot, error) {
	return s.querySlots(ctx, `
		SELECT `+slotColumns+` FROM drive_slots
		WHERE disk_id = ?
		ORDER BY space, x, y, z, slot_index
	`, diskID)
}

// OrphanedSlots returns every slot preserved from a torn-down network.
func (s *Store) OrphanedSlots(ctx context.Context) ([]domain.DriveSlot, error) {
	return s.querySlots(ctx, `
		SELECT `+slotColumns+` FROM drive_slots
		WHERE network_ref LIKE 'orphaned:%'
		ORDER BY space, x, y, z, slot_index
	`)
}

func (s *Store) querySlots(ctx context.Context, query string, args ...any) ([]domain.DriveSlot, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	var out []domain.DriveSlot
	for rows.Next() {
		var row slotRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slot, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, slot)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSlot(ctx context.Context, bay domain.Coordinate, index int) error {
	_, err := s.q.ExecContext(ctx, `
		DELETE FROM drive_slots
		WHERE space = ? AND x = ? AND y = ? AND z = ? AND slot_index = ?
	`, bay.Space, bay.X, bay.Y, bay.Z, index)
	if err != nil {
		return fmt.Errorf("delete slot %s#%d: %w", bay, index, err)
	}
	return nil
}

func (s *Store) DeleteSlotsAt(ctx context.Context, bay domain.Coordinate) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM drive_slots WHERE space = ? AND x = ? AND y = ? AND z = ?
	`, bay.Space, bay.X, bay.Y, bay.Z)
	if err != nil {
		return 0, fmt.Errorf("delete slots at %s: %w", bay, err)
	}
	return res.RowsAffected()
}

func (s *Store) RetagSlots(ctx context.Context, from, to domain.NetworkRef) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE drive_slots SET network_ref = ? WHERE network_ref = ?
	`, to.String(), from.String())
	if err != nil {
		return 0, fmt.Errorf("retag slots %s -> %s: %w", from, to, err)
	}
	return res.RowsAffected()
}

func (s *Store) RetagSlotsAt(ctx context.Context, bay domain.Coordinate, to domain.NetworkRef) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE drive_slots SET network_ref = ?
		WHERE space = ? AND x = ? AND y = ? AND z = ? AND network_ref != ?
	`, to.String(), bay.Space, bay.X, bay.Y, bay.Z, to.String())
	if err != nil {
		return 0, fmt.Errorf("retag slots at %s: %w", bay, err)
	}
	return res.RowsAffected()
}
