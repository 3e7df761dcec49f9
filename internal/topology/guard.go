package topology

import (
	"context"
	"fmt"
	"sort"

	"diskmesh/internal/domain"
	"diskmesh/internal/logging"
	"diskmesh/internal/spatial"
)

// NetworkLookup resolves the registered network of a coordinate.
type NetworkLookup interface {
	NetworkAt(ctx context.Context, c domain.Coordinate) (domain.NetworkRef, error)
	IsValid(ctx context.Context, id string) (bool, error)
}

// Guard vets placements before the world is changed. It never mutates state.
type Guard struct {
	index  spatial.Index
	lookup NetworkLookup
	options
}

// NewGuard creates a guard over the world index and the network registry.
func NewGuard(index spatial.Index, lookup NetworkLookup, opts ...Option) *Guard {
	return &Guard{index: index, lookup: lookup, options: buildOptions(opts)}
}

// component summarises one connected structure adjacent to a placement.
type component struct {
	networks          map[string]struct{}
	servers           int
	securityTerminals int
	cables            int
}

// CheckPlacement returns a non-nil Conflict when placing kind at the
// coordinate would break a structural invariant. Errors are lookup failures
// and leave the decision to the caller.
func (g *Guard) CheckPlacement(ctx context.Context, at domain.Coordinate, kind domain.NodeKind) (*domain.Conflict, error) {
	conflict, err := g.check(ctx, at, kind)
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		if g.metrics != nil {
			g.metrics.PlacementRejected(string(conflict.Reason))
		}
		g.log.Debug(ctx, "placement rejected",
			logging.String("at", at.Key()),
			logging.String("kind", string(kind)),
			logging.String("reason", string(conflict.Reason)))
	}
	return conflict, nil
}

func (g *Guard) check(ctx context.Context, at domain.Coordinate, kind domain.NodeKind) (*domain.Conflict, error) {
	reject := func(reason domain.ConflictReason) *domain.Conflict {
		return &domain.Conflict{Reason: reason, At: at, Kind: kind}
	}

	if _, occupied := g.index.KindAt(at); occupied {
		return reject(domain.ReasonOccupied), nil
	}

	comps, tooLarge, err := g.adjacentComponents(ctx, at, kind.IsCore())
	if err != nil {
		return nil, err
	}
	if tooLarge {
		return reject(domain.ReasonScanLimit), nil
	}

	if !kind.IsCore() {
		// Peripherals attach to their neighbours without joining them.
		if kind == domain.KindSecurityTerminal {
			for _, c := range comps {
				if c.securityTerminals > 0 {
					return reject(domain.ReasonDuplicateSecurityTerminal), nil
				}
			}
		}
		return nil, nil
	}

	networks := make(map[string]struct{})
	serverGroups, terminalGroups, cables := 0, 0, 0
	for _, c := range comps {
		for id := range c.networks {
			networks[id] = struct{}{}
		}
		if c.servers > 0 {
			serverGroups++
		}
		if c.securityTerminals > 0 {
			terminalGroups++
		}
		cables += c.cables
	}
	if kind == domain.KindServer {
		serverGroups++
	}

	if len(networks) > 1 {
		conflict := reject(domain.ReasonMergeNetworks)
		conflict.Networks = sortedKeys(networks)
		return conflict, nil
	}
	if serverGroups > 1 {
		conflict := reject(domain.ReasonDuplicateServer)
		conflict.Networks = sortedKeys(networks)
		return conflict, nil
	}
	if terminalGroups > 1 {
		return reject(domain.ReasonDuplicateSecurityTerminal), nil
	}
	if kind == domain.KindCable {
		if max := g.limits.MaxCables(); max > 0 && cables >= max {
			conflict := reject(domain.ReasonCableLimit)
			conflict.Limit = max
			conflict.Networks = sortedKeys(networks)
			return conflict, nil
		}
	}
	return nil, nil
}

// adjacentComponents walks every distinct structure touching at. Core
// structures are expanded through core kinds; peripherals are counted where
// they touch a visited core node but are never expanded. When leaves is set,
// peripherals touching at directly form their own single-node components,
// since a core placement would join them to the rest.
func (g *Guard) adjacentComponents(ctx context.Context, at domain.Coordinate, leaves bool) ([]*component, bool, error) {
	visited := map[domain.Coordinate]struct{}{at: {}}
	validity := make(map[string]bool)
	var comps []*component

	for _, n := range g.index.Neighbors(at) {
		if _, seen := visited[n]; seen {
			continue
		}
		kind, ok := g.index.KindAt(n)
		if !ok {
			continue
		}
		if kind.IsPeripheral() {
			if !leaves {
				continue
			}
			visited[n] = struct{}{}
			c := &component{networks: map[string]struct{}{}}
			if kind == domain.KindSecurityTerminal {
				c.securityTerminals++
			}
			comps = append(comps, c)
			continue
		}

		c, tooLarge, err := g.walk(ctx, n, kind, visited, validity)
		if err != nil {
			return nil, false, err
		}
		if tooLarge {
			return nil, true, nil
		}
		comps = append(comps, c)
	}
	return comps, false, nil
}

func (g *Guard) walk(ctx context.Context, start domain.Coordinate, kind domain.NodeKind, visited map[domain.Coordinate]struct{}, validity map[string]bool) (*component, bool, error) {
	c := &component{networks: make(map[string]struct{})}
	visited[start] = struct{}{}
	queue := []domain.Member{{Coord: start, Kind: kind}}

	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]

		switch m.Kind {
		case domain.KindServer:
			c.servers++
		case domain.KindCable:
			c.cables++
		}

		ref, err := g.lookup.NetworkAt(ctx, m.Coord)
		if err != nil {
			return nil, false, fmt.Errorf("lookup network at %s: %w", m.Coord, err)
		}
		if id, ok := ref.NetworkID(); ok {
			valid, known := validity[id]
			if !known {
				valid, err = g.lookup.IsValid(ctx, id)
				if err != nil {
					return nil, false, fmt.Errorf("check network %s: %w", id, err)
				}
				validity[id] = valid
			}
			if valid {
				c.networks[id] = struct{}{}
			}
		}

		for _, n := range g.index.Neighbors(m.Coord) {
			if _, seen := visited[n]; seen {
				continue
			}
			nk, ok := g.index.KindAt(n)
			if !ok {
				continue
			}
			visited[n] = struct{}{}
			if g.limits.exceeded(len(visited)) {
				return nil, true, nil
			}
			if nk.IsPeripheral() {
				if nk == domain.KindSecurityTerminal {
					c.securityTerminals++
				}
				continue
			}
			queue = append(queue, domain.Member{Coord: n, Kind: nk})
		}
	}
	return c, false, nil
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
