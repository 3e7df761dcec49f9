package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"diskmesh/internal/domain"
	"diskmesh/internal/repository"
)

func (s *Store) CreateDisk(ctx context.Context, d *domain.Disk) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO disks (`+diskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.OwnerID, d.OwnerName, int(d.Tier), d.UsedCells, d.MaxCells,
		stringToNull(d.NetworkID), timeToUnix(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("create disk %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) GetDisk(ctx context.Context, id string) (*domain.Disk, error) {
	var row diskRow
	err := s.q.QueryRowContext(ctx,
		`SELECT `+diskColumns+` FROM disks WHERE id = ?`, id,
	).Scan(row.scanArgs()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get disk %s: %w", id, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListDisks(ctx context.Context) ([]domain.Disk, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+diskColumns+` FROM disks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list disks: %w", err)
	}
	defer rows.Close()

	var out []domain.Disk
	for rows.Next() {
		var row diskRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("scan disk: %w", err)
		}
		out = append(out, *row.toDomain())
	}
	return out, rows.Err()
}

func (s *Store) SetDiskNetwork(ctx context.Context, id, networkID string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE disks SET network_id = ?
		WHERE id = ? AND COALESCE(network_id, '') != ?
	`, stringToNull(networkID), id, networkID)
	if err != nil {
		return false, fmt.Errorf("set network of disk %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) ClearDiskNetwork(ctx context.Context, networkID string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `UPDATE disks SET network_id = NULL WHERE network_id = ?`, networkID)
	if err != nil {
		return 0, fmt.Errorf("clear disks of %s: %w", networkID, err)
	}
	return res.RowsAffected()
}

func (s *Store) SetUsedCells(ctx context.Context, id string, used int) error {
	if _, err := s.q.ExecContext(ctx, `UPDATE disks SET used_cells = ? WHERE id = ?`, used, id); err != nil {
		return fmt.Errorf("set used cells of disk %s: %w", id, err)
	}
	return nil
}

// DeleteDisk removes the disk and its ledger entries.
func (s *Store) DeleteDisk(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM disk_items WHERE disk_id = ?`, id); err != nil {
		return fmt.Errorf("delete items of disk %s: %w", id, err)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM disks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete disk %s: %w", id, err)
	}
	return nil
}
