package sqlite

import (
	"context"
	"fmt"
)

// RecountUsedCells counts the distinct item keys stored on the disk.
func (s *Store) RecountUsedCells(ctx context.Context, diskID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT item_key) FROM disk_items
		WHERE disk_id = ? AND quantity > 0
	`, diskID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("recount disk %s: %w", diskID, err)
	}
	return n, nil
}

func (s *Store) AdjustItem(ctx context.Context, diskID, key string, delta int64) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO disk_items (disk_id, item_key, quantity)
		VALUES (?, ?, MAX(?, 0))
		ON CONFLICT(disk_id, item_key) DO UPDATE SET
			quantity = MAX(disk_items.quantity + ?, 0)
	`, diskID, key, delta, delta)
	if err != nil {
		return fmt.Errorf("adjust %s on disk %s: %w", key, diskID, err)
	}
	if _, err := s.q.ExecContext(ctx, `
		DELETE FROM disk_items WHERE disk_id = ? AND item_key = ? AND quantity = 0
	`, diskID, key); err != nil {
		return fmt.Errorf("prune %s on disk %s: %w", key, diskID, err)
	}
	return nil
}

// Items returns the stored quantities of a disk keyed by item.
func (s *Store) Items(ctx context.Context, diskID string) (map[string]int64, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT item_key, quantity FROM disk_items
		WHERE disk_id = ? AND quantity > 0
	`, diskID)
	if err != nil {
		return nil, fmt.Errorf("list items of disk %s: %w", diskID, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			key string
			qty int64
		)
		if err := rows.Scan(&key, &qty); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out[key] = qty
	}
	return out, rows.Err()
}
