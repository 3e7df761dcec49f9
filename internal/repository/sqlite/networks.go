package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"diskmesh/internal/domain"
	"diskmesh/internal/repository"
)

// UpsertNetwork inserts or updates a network row. Members are written
// separately by ReplaceMembers.
func (s *Store) UpsertNetwork(ctx context.Context, n *domain.Network) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO networks (id, valid, owner_id, last_accessed)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			valid = excluded.valid,
			owner_id = COALESCE(excluded.owner_id, networks.owner_id),
			last_accessed = excluded.last_accessed
	`, n.ID, boolToInt(n.Valid), stringToNull(n.OwnerID), timeToUnix(n.LastAccessed))
	if err != nil {
		return fmt.Errorf("upsert network %s: %w", n.ID, err)
	}
	return nil
}

// GetNetwork returns the network row with its members.
func (s *Store) GetNetwork(ctx context.Context, id string) (*domain.Network, error) {
	var row networkRow
	err := s.q.QueryRowContext(ctx,
		`SELECT `+networkColumns+` FROM networks WHERE id = ?`, id,
	).Scan(row.scanArgs()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get network %s: %w", id, err)
	}

	n := row.toDomain()
	if n.Members, err = s.ListMembers(ctx, id); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Store) NetworkExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx, `SELECT 1 FROM networks WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check network %s: %w", id, err)
	}
	return true, nil
}

// ListNetworks returns every network row ordered by id, without members.
func (s *Store) ListNetworks(ctx context.Context) ([]domain.Network, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+networkColumns+` FROM networks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}
	defer rows.Close()

	var out []domain.Network
	for rows.Next() {
		var row networkRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("scan network: %w", err)
		}
		out = append(out, *row.toDomain())
	}
	return out, rows.Err()
}

func (s *Store) DeleteNetwork(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM networks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete network %s: %w", id, err)
	}
	return nil
}

// ReplaceMembers writes only the difference between the stored and the new
// member set, so replacing with an unchanged set touches no rows.
func (s *Store) ReplaceMembers(ctx context.Context, networkID string, members []domain.Member) error {
	current, err := s.ListMembers(ctx, networkID)
	if err != nil {
		return err
	}

	want := make(map[domain.Coordinate]domain.NodeKind, len(members))
	for _, m := range members {
		want[m.Coord] = m.Kind
	}

	for _, m := range current {
		if _, keep := want[m.Coord]; keep {
			continue
		}
		if _, err := s.q.ExecContext(ctx, `
			DELETE FROM network_members
			WHERE network_id = ? AND space = ? AND x = ? AND y = ? AND z = ?
		`, networkID, m.Coord.Space, m.Coord.X, m.Coord.Y, m.Coord.Z); err != nil {
			return fmt.Errorf("delete member %s of %s: %w", m.Coord, networkID, err)
		}
	}

	for _, m := range members {
		if _, err := s.q.ExecContext(ctx, `
			INSERT INTO network_members (network_id, space, x, y, z, kind)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(space, x, y, z) DO UPDATE SET
				network_id = excluded.network_id,
				kind = excluded.kind
			WHERE network_members.network_id != excluded.network_id
				OR network_members.kind != excluded.kind
		`, networkID, m.Coord.Space, m.Coord.X, m.Coord.Y, m.Coord.Z, string(m.Kind)); err != nil {
			return fmt.Errorf("upsert member %s of %s: %w", m.Coord, networkID, err)
		}
	}
	return nil
}

// ListMembers returns the members of a network ordered by coordinate.
func (s *Store) ListMembers(ctx context.Context, networkID string) ([]domain.Member, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+memberColumns+` FROM network_members
		WHERE network_id = ?
		ORDER BY space, x, y, z
	`, networkID)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", networkID, err)
	}
	defer rows.Close()

	var out []domain.Member
	for rows.Next() {
		var row memberRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, row.toDomain())
	}
	return out, rows.Err()
}

func (s *Store) DeleteMembers(ctx context.Context, networkID string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM network_members WHERE network_id = ?`, networkID); err != nil {
		return fmt.Errorf("delete members of %s: %w", networkID, err)
	}
	return nil
}

func (s *Store) MemberAt(ctx context.Context, c domain.Coordinate) (string, bool, error) {
	var id string
	err := s.q.QueryRowContext(ctx, `
		SELECT network_id FROM network_members
		WHERE space = ? AND x = ? AND y = ? AND z = ?
	`, c.Space, c.X, c.Y, c.Z).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("member at %s: %w", c, err)
	}
	return id, true, nil
}
