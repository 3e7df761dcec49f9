package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Coordinate addresses a single cell in a sparse 3D integer space.
// Space distinguishes independent worlds/dimensions.
type Coordinate struct {
	Space int `json:"space" yaml:"space"`
	X     int `json:"x" yaml:"x"`
	Y     int `json:"y" yaml:"y"`
	Z     int `json:"z" yaml:"z"`
}

// At is shorthand for building a Coordinate.
func At(space, x, y, z int) Coordinate {
	return Coordinate{Space: space, X: x, Y: y, Z: z}
}

// faceOffsets lists the 6-neighbourhood in a fixed order so traversals are
// reproducible.
var faceOffsets = [6][3]int{
	{1, 0, 0}, {-1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
	{0, 0, 1}, {0, 0, -1},
}

// Neighbors returns the six face-adjacent coordinates in the same space.
func (c Coordinate) Neighbors() [6]Coordinate {
	var out [6]Coordinate
	for i, o := range faceOffsets {
		out[i] = Coordinate{Space: c.Space, X: c.X + o[0], Y: c.Y + o[1], Z: c.Z + o[2]}
	}
	return out
}

// Adjacent reports whether two coordinates share a face.
func (c Coordinate) Adjacent(o Coordinate) bool {
	if c.Space != o.Space {
		return false
	}
	d := abs(c.X-o.X) + abs(c.Y-o.Y) + abs(c.Z-o.Z)
	return d == 1
}

// Key returns the canonical text form "space:x:y:z".
func (c Coordinate) Key() string {
	return fmt.Sprintf("%d:%d:%d:%d", c.Space, c.X, c.Y, c.Z)
}

func (c Coordinate) String() string {
	return c.Key()
}

// Less orders coordinates by space, then x, y, z.
func (c Coordinate) Less(o Coordinate) bool {
	if c.Space != o.Space {
		return c.Space < o.Space
	}
	if c.X != o.X {
		return c.X < o.X
	}
	if c.Y != o.Y {
		return c.Y < o.Y
	}
	return c.Z < o.Z
}

// ParseCoordinate parses the output of Coordinate.Key.
func ParseCoordinate(s string) (Coordinate, error) {
	return parseCoordinateParts(strings.Split(s, ":"), s)
}

func parseCoordinateParts(parts []string, raw string) (Coordinate, error) {
	if len(parts) != 4 {
		return Coordinate{}, fmt.Errorf("invalid coordinate %q", raw)
	}
	var vals [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return Coordinate{}, fmt.Errorf("invalid coordinate %q: %w", raw, err)
		}
		vals[i] = v
	}
	return Coordinate{Space: vals[0], X: vals[1], Y: vals[2], Z: vals[3]}, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
