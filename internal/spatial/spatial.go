// Package spatial is the boundary to the world that holds placed nodes.
// The host owns the real world; Grid is an in-memory World used by the
// daemon's layout mode and by tests.
package spatial

import (
	"sort"
	"sync"

	"diskmesh/internal/domain"
)

// Index classifies coordinates. Implementations must be safe for concurrent
// reads; the topology engine never assumes two reads see the same world.
type Index interface {
	KindAt(c domain.Coordinate) (domain.NodeKind, bool)
	Neighbors(c domain.Coordinate) [6]domain.Coordinate
}

// World is an Index that the engine may also mutate on behalf of the host.
type World interface {
	Index
	Set(c domain.Coordinate, kind domain.NodeKind)
	Remove(c domain.Coordinate) (domain.NodeKind, bool)
}

// Grid is a sparse in-memory World.
type Grid struct {
	mu    sync.RWMutex
	nodes map[domain.Coordinate]domain.NodeKind
}

// NewGrid creates an empty grid.
func NewGrid() *Grid {
	return &Grid{nodes: make(map[domain.Coordinate]domain.NodeKind)}
}

// KindAt returns the kind at c, if any.
func (g *Grid) KindAt(c domain.Coordinate) (domain.NodeKind, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	k, ok := g.nodes[c]
	return k, ok
}

// Neighbors returns the face-adjacent coordinates of c.
func (g *Grid) Neighbors(c domain.Coordinate) [6]domain.Coordinate {
	return c.Neighbors()
}

// Set places kind at c, replacing whatever was there.
func (g *Grid) Set(c domain.Coordinate, kind domain.NodeKind) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[c] = kind
}

// Remove clears c and returns the kind that was there.
func (g *Grid) Remove(c domain.Coordinate) (domain.NodeKind, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k, ok := g.nodes[c]
	delete(g.nodes, c)
	return k, ok
}

// Len returns the number of occupied coordinates.
func (g *Grid) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Find returns every coordinate currently holding kind, in coordinate order.
func (g *Grid) Find(kind domain.NodeKind) []domain.Coordinate {
	g.mu.RLock()
	var out []domain.Coordinate
	for c, k := range g.nodes {
		if k == kind {
			out = append(out, c)
		}
	}
	g.mu.RUnlock()
	domain.SortCoordinates(out)
	return out
}

// Nodes returns every placed node in coordinate order.
func (g *Grid) Nodes() []domain.Node {
	g.mu.RLock()
	out := make([]domain.Node, 0, len(g.nodes))
	for c, k := range g.nodes {
		out = append(out, domain.Node{Coordinate: c, Kind: k})
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Coordinate.Less(out[j].Coordinate) })
	return out
}
