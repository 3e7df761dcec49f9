// Package loader moves world layouts between files and a running world.
package loader

import (
	"context"
	"fmt"
	"os"

	"diskmesh/internal/codec"
	"diskmesh/internal/domain"
	"diskmesh/internal/spatial"
)

// Placer places one node through the engine's guard.
type Placer interface {
	Place(ctx context.Context, at domain.Coordinate, kind domain.NodeKind, ownerID string) (*domain.Conflict, error)
}

// NodeLister enumerates a world.
type NodeLister interface {
	Nodes() []domain.Node
}

// LoadFile reads a layout, choosing the format from the extension.
func LoadFile(path string) (*domain.Layout, error) {
	c, err := codec.ForPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open layout: %w", err)
	}
	defer f.Close()

	layout, err := c.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return layout, nil
}

// SaveFile writes a layout, choosing the format from the extension.
func SaveFile(path string, layout *domain.Layout) error {
	c, err := codec.ForPath(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create layout: %w", err)
	}
	if err := c.Export(layout, f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Apply writes a layout straight into a world, bypassing the guard. The
// caller is expected to rescan afterwards.
func Apply(world spatial.World, layout *domain.Layout) error {
	for _, n := range layout.Nodes {
		if kind, ok := world.KindAt(n.Coordinate); ok {
			return fmt.Errorf("coordinate %s already holds %s", n.Coordinate, kind)
		}
	}
	for _, n := range layout.Nodes {
		world.Set(n.Coordinate, n.Kind)
	}
	return nil
}

// Replay places every node in order through p. Refused placements are
// collected and do not stop the replay.
func Replay(ctx context.Context, p Placer, layout *domain.Layout, ownerID string) ([]*domain.Conflict, error) {
	var conflicts []*domain.Conflict
	for _, n := range layout.Nodes {
		if err := ctx.Err(); err != nil {
			return conflicts, err
		}
		conflict, err := p.Place(ctx, n.Coordinate, n.Kind, ownerID)
		if err != nil {
			return conflicts, fmt.Errorf("place %s at %s: %w", n.Kind, n.Coordinate, err)
		}
		if conflict != nil {
			conflicts = append(conflicts, conflict)
		}
	}
	return conflicts, nil
}

// Snapshot captures the nodes of a world as a layout.
func Snapshot(world NodeLister) *domain.Layout {
	return &domain.Layout{Version: "1", Nodes: world.Nodes()}
}
