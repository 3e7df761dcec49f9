package domain

import "time"

// Peripheral is an exporter, importer or security terminal attached next to a
// network. Filters are opaque to the topology engine.
type Peripheral struct {
	ID      string     `json:"id"`
	Kind    NodeKind   `json:"kind"`
	Coord   Coordinate `json:"coord"`
	Network NetworkRef `json:"network"`
	Enabled bool       `json:"enabled"`
	// AutoDisabled is set when the reconciler switched the peripheral off
	// because it lost its network. A manual change clears it.
	AutoDisabled bool      `json:"auto_disabled,omitempty"`
	Filters      []string  `json:"filters,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
