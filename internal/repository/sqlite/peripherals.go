package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"diskmesh/internal/domain"
	"diskmesh/internal/repository"
)

// UpsertPeripheral inserts or updates a peripheral by id.
func (s *Store) UpsertPeripheral(ctx context.Context, p *domain.Peripheral) error {
	filters, err := marshalFilters(p.Filters)
	if err != nil {
		return fmt.Errorf("marshal filters: %w", err)
	}
	c := p.Coord
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO peripherals (`+peripheralColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			space = excluded.space,
			x = excluded.x,
			y = excluded.y,
			z = excluded.z,
			network_ref = excluded.network_ref,
			enabled = excluded.enabled,
			auto_disabled = excluded.auto_disabled,
			filters = excluded.filters
	`, p.ID, string(p.Kind), c.Space, c.X, c.Y, c.Z, p.Network.String(),
		boolToInt(p.Enabled), boolToInt(p.AutoDisabled), filters, timeToUnix(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert peripheral %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetPeripheral(ctx context.Context, id string) (*domain.Peripheral, error) {
	return s.queryPeripheral(ctx, `SELECT `+peripheralColumns+` FROM peripherals WHERE id = ?`, id)
}

func (s *Store) PeripheralAt(ctx context.Context, c domain.Coordinate) (*domain.Peripheral, error) {
	return s.queryPeripheral(ctx, `
		SELECT `+peripheralColumns+` FROM peripherals
		WHERE space = ? AND x = ? AND y = ? AND z = ?
	`, c.Space, c.X, c.Y, c.Z)
}

func (s *Store) queryPeripheral(ctx context.Context, query string, args ...any) (*domain.Peripheral, error) {
	var row peripheralRow
	err := s.q.QueryRowContext(ctx, query, args...).Scan(row.scanArgs()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get peripheral: %w", err)
	}
	return row.toDomain()
}

// ListPeripherals returns every peripheral ordered by coordinate.
func (s *Store) ListPeripherals(ctx context.Context) ([]domain.Peripheral, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+peripheralColumns+` FROM peripherals ORDER BY space, x, y, z
	`)
	if err != nil {
		return nil, fmt.Errorf("list peripherals: %w", err)
	}
	defer rows.Close()

	var out []domain.Peripheral
	for rows.Next() {
		var row peripheralRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("scan peripheral: %w", err)
		}
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePeripheral(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM peripherals WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete peripheral %s: %w", id, err)
	}
	return nil
}
