package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const networkIDPrefix = "net_"

// NetworkID derives the stable id of a network from its server coordinate.
func NetworkID(server Coordinate) string {
	return fmt.Sprintf("%s%d_%d_%d_%d", networkIDPrefix, server.Space, server.X, server.Y, server.Z)
}

// ServerOf recovers the server coordinate a network id was derived from.
func ServerOf(id string) (Coordinate, error) {
	if !strings.HasPrefix(id, networkIDPrefix) {
		return Coordinate{}, fmt.Errorf("invalid network id %q", id)
	}
	return parseCoordinateParts(strings.Split(strings.TrimPrefix(id, networkIDPrefix), "_"), id)
}

// Network is the persisted state of a registered network.
type Network struct {
	ID           string    `json:"id"`
	Valid        bool      `json:"valid"`
	OwnerID      string    `json:"owner_id,omitempty"`
	LastAccessed time.Time `json:"last_accessed"`
	Members      []Member  `json:"members,omitempty"`
}

// NetworkSnapshot is the result of a successful detection.
type NetworkSnapshot struct {
	ID        string       `json:"id" yaml:"id"`
	Server    Coordinate   `json:"server" yaml:"server"`
	Bays      []Coordinate `json:"bays" yaml:"bays"`
	Terminals []Coordinate `json:"terminals" yaml:"terminals"`
	Cables    []Coordinate `json:"cables,omitempty" yaml:"cables,omitempty"`
	Members   []Member     `json:"members" yaml:"members"`
}

// Contains reports whether c is a member of the snapshot.
func (s *NetworkSnapshot) Contains(c Coordinate) bool {
	for _, m := range s.Members {
		if m.Coord == c {
			return true
		}
	}
	return false
}

// SortMembers orders members and role lists by coordinate so snapshots of the
// same structure compare equal.
func SortMembers(members []Member) {
	sort.Slice(members, func(i, j int) bool { return members[i].Coord.Less(members[j].Coord) })
}

// SortCoordinates orders coordinates in place.
func SortCoordinates(cs []Coordinate) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Less(cs[j]) })
}
