package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diskmesh/internal/domain"
	"diskmesh/internal/spatial"
)

func c(x int) domain.Coordinate { return domain.At(0, x, 64, 0) }

type placerFunc func(ctx context.Context, at domain.Coordinate, kind domain.NodeKind, ownerID string) (*domain.Conflict, error)

func (f placerFunc) Place(ctx context.Context, at domain.Coordinate, kind domain.NodeKind, ownerID string) (*domain.Conflict, error) {
	return f(ctx, at, kind, ownerID)
}

func TestLoadAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
nodes:
  - {x: 0, y: 64, kind: server}
  - {x: 1, y: 64, kind: bay}
  - {x: 2, y: 64, kind: terminal}
`), 0644))

	layout, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, layout.Nodes, 3)

	world := spatial.NewGrid()
	require.NoError(t, Apply(world, layout))
	assert.Equal(t, 3, world.Len())
	assert.Equal(t, []domain.Coordinate{c(0)}, world.Find(domain.KindServer))

	err = Apply(world, layout)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already holds")
	assert.Equal(t, 3, world.Len())
}

func TestSaveSnapshot(t *testing.T) {
	world := spatial.NewGrid()
	world.Set(c(2), domain.KindTerminal)
	world.Set(c(0), domain.KindServer)

	path := filepath.Join(t.TempDir(), "world.json")
	require.NoError(t, SaveFile(path, Snapshot(world)))

	layout, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []domain.Node{
		{Coordinate: c(0), Kind: domain.KindServer},
		{Coordinate: c(2), Kind: domain.KindTerminal},
	}, layout.Nodes)
}

func TestReplayCollectsConflicts(t *testing.T) {
	layout := &domain.Layout{Nodes: []domain.Node{
		{Coordinate: c(0), Kind: domain.KindServer},
		{Coordinate: c(1), Kind: domain.KindServer},
		{Coordinate: c(2), Kind: domain.KindBay},
	}}

	var placed []domain.Coordinate
	p := placerFunc(func(_ context.Context, at domain.Coordinate, kind domain.NodeKind, owner string) (*domain.Conflict, error) {
		assert.Equal(t, "u1", owner)
		if kind == domain.KindServer && len(placed) > 0 {
			return &domain.Conflict{Reason: domain.ReasonDuplicateServer, At: at, Kind: kind}, nil
		}
		placed = append(placed, at)
		return nil, nil
	})

	conflicts, err := Replay(context.Background(), p, layout, "u1")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, c(1), conflicts[0].At)
	assert.Equal(t, []domain.Coordinate{c(0), c(2)}, placed)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFile("world.ini")
	assert.Error(t, err)
}
