package domain

import "fmt"

// Layout is a serialisable description of placed nodes.
type Layout struct {
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []Node `json:"nodes" yaml:"nodes"`
}

// Validate rejects unknown kinds and coordinates listed twice.
func (l *Layout) Validate() error {
	seen := make(map[Coordinate]struct{}, len(l.Nodes))
	for _, n := range l.Nodes {
		if _, err := ParseNodeKind(string(n.Kind)); err != nil {
			return fmt.Errorf("node at %s: %w", n.Coordinate, err)
		}
		if _, dup := seen[n.Coordinate]; dup {
			return fmt.Errorf("coordinate %s listed twice", n.Coordinate)
		}
		seen[n.Coordinate] = struct{}{}
	}
	return nil
}
