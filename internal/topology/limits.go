package topology

import "sync/atomic"

const (
	// DefaultMaxCables bounds the cables in one connected structure.
	DefaultMaxCables = 64
	// DefaultMaxScanNodes bounds every traversal.
	DefaultMaxScanNodes = 4096
)

// Limits holds traversal bounds that may be changed while the engine runs.
// A value <= 0 disables the bound.
type Limits struct {
	maxCables    atomic.Int64
	maxScanNodes atomic.Int64
}

// NewLimits creates a Limits value.
func NewLimits(maxCables, maxScanNodes int) *Limits {
	l := &Limits{}
	l.Set(maxCables, maxScanNodes)
	return l
}

// DefaultLimits returns Limits with the package defaults.
func DefaultLimits() *Limits {
	return NewLimits(DefaultMaxCables, DefaultMaxScanNodes)
}

// Set replaces both bounds.
func (l *Limits) Set(maxCables, maxScanNodes int) {
	l.maxCables.Store(int64(maxCables))
	l.maxScanNodes.Store(int64(maxScanNodes))
}

func (l *Limits) MaxCables() int    { return int(l.maxCables.Load()) }
func (l *Limits) MaxScanNodes() int { return int(l.maxScanNodes.Load()) }

func (l *Limits) exceeded(visited int) bool {
	max := l.MaxScanNodes()
	return max > 0 && visited > max
}
