package domain

import (
	"fmt"
	"strings"
)

// RefKind tags the variant held by a NetworkRef.
type RefKind uint8

const (
	// RefUnconnected is the zero value: no network at all.
	RefUnconnected RefKind = iota
	// RefAttached points at a real network id (which may or may not still be valid).
	RefAttached
	// RefOrphaned marks state preserved after its network was torn down.
	RefOrphaned
	// RefStandalone marks state owned by a bay that is not part of any network.
	RefStandalone
)

const (
	orphanedPrefix   = "orphaned:"
	standalonePrefix = "standalone:"
	unconnectedText  = "UNCONNECTED"
)

// NetworkRef is what slots and peripherals store in place of a bare network id.
// Use Kind() in an exhaustive switch rather than inspecting the text form.
type NetworkRef struct {
	kind  RefKind
	id    string
	coord Coordinate
}

// Attached references a real network id.
func Attached(id string) NetworkRef { return NetworkRef{kind: RefAttached, id: id} }

// Orphaned references a network that has been torn down.
func Orphaned(oldID string) NetworkRef { return NetworkRef{kind: RefOrphaned, id: oldID} }

// Standalone references a bay that belongs to no network.
func Standalone(bay Coordinate) NetworkRef { return NetworkRef{kind: RefStandalone, coord: bay} }

// Unconnected is the absence of any network.
func Unconnected() NetworkRef { return NetworkRef{} }

func (r NetworkRef) Kind() RefKind { return r.kind }

// ID returns the network id for attached refs and the previous id for
// orphaned refs. Other variants return "".
func (r NetworkRef) ID() string { return r.id }

// Coord returns the bay of a standalone ref.
func (r NetworkRef) Coord() Coordinate { return r.coord }

// IsAttached reports whether the ref names a real network id.
func (r NetworkRef) IsAttached() bool { return r.kind == RefAttached }

// NetworkID returns the attached id, if any.
func (r NetworkRef) NetworkID() (string, bool) {
	if r.kind == RefAttached {
		return r.id, true
	}
	return "", false
}

// String returns the persisted text form.
func (r NetworkRef) String() string {
	switch r.kind {
	case RefAttached:
		return r.id
	case RefOrphaned:
		return orphanedPrefix + r.id
	case RefStandalone:
		return standalonePrefix + r.coord.Key()
	default:
		return unconnectedText
	}
}

// ParseNetworkRef decodes the persisted text form. Empty input decodes to
// Unconnected.
func ParseNetworkRef(s string) (NetworkRef, error) {
	switch {
	case s == "" || s == unconnectedText:
		return Unconnected(), nil
	case strings.HasPrefix(s, orphanedPrefix):
		id := strings.TrimPrefix(s, orphanedPrefix)
		if id == "" {
			return NetworkRef{}, fmt.Errorf("invalid network ref %q: empty orphan id", s)
		}
		return Orphaned(id), nil
	case strings.HasPrefix(s, standalonePrefix):
		c, err := ParseCoordinate(strings.TrimPrefix(s, standalonePrefix))
		if err != nil {
			return NetworkRef{}, fmt.Errorf("invalid network ref %q: %w", s, err)
		}
		return Standalone(c), nil
	default:
		return Attached(s), nil
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r NetworkRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *NetworkRef) UnmarshalText(b []byte) error {
	parsed, err := ParseNetworkRef(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
