package domain

import "fmt"

// NodeKind classifies what occupies a coordinate.
type NodeKind string

const (
	KindServer           NodeKind = "server"
	KindBay              NodeKind = "bay"
	KindTerminal         NodeKind = "terminal"
	KindCable            NodeKind = "cable" // pass-through, never satisfies a role
	KindExporter         NodeKind = "exporter"
	KindImporter         NodeKind = "importer"
	KindSecurityTerminal NodeKind = "security_terminal"
)

// AllKinds lists every known kind.
var AllKinds = []NodeKind{
	KindServer, KindBay, KindTerminal, KindCable,
	KindExporter, KindImporter, KindSecurityTerminal,
}

// ParseNodeKind validates a kind name.
func ParseNodeKind(s string) (NodeKind, error) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown node kind %q", s)
}

// IsCore reports whether the kind participates in the connectivity graph.
func (k NodeKind) IsCore() bool {
	switch k {
	case KindServer, KindBay, KindTerminal, KindCable:
		return true
	}
	return false
}

// IsPeripheral reports whether the kind attaches to a network without being
// part of its connectivity graph.
func (k NodeKind) IsPeripheral() bool {
	switch k {
	case KindExporter, KindImporter, KindSecurityTerminal:
		return true
	}
	return false
}

// IsSingleton reports whether at most one node of this kind may exist in a
// connected graph.
func (k NodeKind) IsSingleton() bool {
	return k == KindServer || k == KindSecurityTerminal
}

// Member is a coordinate with the kind observed there.
type Member struct {
	Coord Coordinate `json:"coord"`
	Kind  NodeKind   `json:"kind"`
}

// Node is a placed element as described by a world layout.
type Node struct {
	Coordinate `yaml:",inline"`
	Kind       NodeKind `json:"kind" yaml:"kind"`
}
