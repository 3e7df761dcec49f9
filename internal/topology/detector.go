// Package topology discovers networks in the world and vets placements
// before they are committed. Everything here is read-only and unlocked: a
// result may be stale by the time the caller acts on it, and the commit path
// in the service package re-checks under the network lock.
package topology

import (
	"context"
	"time"

	"diskmesh/internal/domain"
	"diskmesh/internal/logging"
	"diskmesh/internal/spatial"
)

// Outcome describes why a detection did or did not produce a network.
type Outcome int

const (
	OutcomeValid Outcome = iota
	OutcomeNotParticipating
	OutcomeNoServer
	OutcomeAmbiguousServer
	OutcomeMissingBay
	OutcomeMissingTerminal
	OutcomeTooLarge
)

var outcomeNames = map[Outcome]string{
	OutcomeValid:            "valid",
	OutcomeNotParticipating: "not_participating",
	OutcomeNoServer:         "no_server",
	OutcomeAmbiguousServer:  "ambiguous_server",
	OutcomeMissingBay:       "missing_bay",
	OutcomeMissingTerminal:  "missing_terminal",
	OutcomeTooLarge:         "too_large",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "unknown"
}

// Detection is the full result of a traversal. Snapshot is set only when
// Outcome is OutcomeValid.
type Detection struct {
	Outcome  Outcome
	Snapshot *domain.NetworkSnapshot
	Servers  []domain.Coordinate
	Visited  int
}

// Metrics receives detection and placement outcomes.
type Metrics interface {
	ObserveDetection(outcome string, elapsed time.Duration)
	PlacementRejected(reason string)
}

// Option customises a Detector or Guard.
type Option func(*options)

type options struct {
	limits  *Limits
	log     logging.Logger
	metrics Metrics
}

// WithLimits shares a Limits value, typically one the config watcher updates.
func WithLimits(l *Limits) Option {
	return func(o *options) { o.limits = l }
}

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.limits == nil {
		o.limits = DefaultLimits()
	}
	if o.log == nil {
		o.log = logging.Noop()
	}
	return o
}

// Detector finds the network a coordinate belongs to.
type Detector struct {
	index spatial.Index
	options
}

// NewDetector creates a detector over the given world index.
func NewDetector(index spatial.Index, opts ...Option) *Detector {
	return &Detector{index: index, options: buildOptions(opts)}
}

// Detect returns the snapshot of the valid network containing seed, or nil.
// The id depends only on the server coordinate, so any seed inside the same
// structure yields the same snapshot.
func (d *Detector) Detect(ctx context.Context, seed domain.Coordinate) *domain.NetworkSnapshot {
	return d.Inspect(ctx, seed).Snapshot
}

// Inspect runs the traversal and reports why it succeeded or failed.
func (d *Detector) Inspect(ctx context.Context, seed domain.Coordinate) Detection {
	start := time.Now()
	det := d.traverse(seed)
	if d.metrics != nil {
		d.metrics.ObserveDetection(det.Outcome.String(), time.Since(start))
	}
	if det.Outcome == OutcomeAmbiguousServer {
		d.log.Debug(ctx, "ambiguous topology",
			logging.String("seed", seed.Key()),
			logging.Int("servers", len(det.Servers)))
	}
	return det
}

func (d *Detector) traverse(seed domain.Coordinate) Detection {
	kind, ok := d.index.KindAt(seed)
	if !ok || !kind.IsCore() {
		return Detection{Outcome: OutcomeNotParticipating}
	}

	var (
		queue     = []domain.Member{{Coord: seed, Kind: kind}}
		visited   = map[domain.Coordinate]struct{}{seed: {}}
		members   []domain.Member
		servers   []domain.Coordinate
		bays      []domain.Coordinate
		terminals []domain.Coordinate
		cables    []domain.Coordinate
	)

	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]

		switch m.Kind {
		case domain.KindServer:
			servers = append(servers, m.Coord)
			if len(servers) > 1 {
				return Detection{Outcome: OutcomeAmbiguousServer, Servers: servers, Visited: len(visited)}
			}
		case domain.KindBay:
			bays = append(bays, m.Coord)
		case domain.KindTerminal:
			terminals = append(terminals, m.Coord)
		case domain.KindCable:
			cables = append(cables, m.Coord)
		}
		members = append(members, m)

		for _, n := range d.index.Neighbors(m.Coord) {
			if _, seen := visited[n]; seen {
				continue
			}
			nk, ok := d.index.KindAt(n)
			if !ok || !nk.IsCore() {
				continue
			}
			visited[n] = struct{}{}
			if d.limits.exceeded(len(visited)) {
				return Detection{Outcome: OutcomeTooLarge, Servers: servers, Visited: len(visited)}
			}
			queue = append(queue, domain.Member{Coord: n, Kind: nk})
		}
	}

	det := Detection{Servers: servers, Visited: len(visited)}
	switch {
	case len(servers) == 0:
		det.Outcome = OutcomeNoServer
	case len(bays) == 0:
		det.Outcome = OutcomeMissingBay
	case len(terminals) == 0:
		det.Outcome = OutcomeMissingTerminal
	default:
		domain.SortMembers(members)
		domain.SortCoordinates(bays)
		domain.SortCoordinates(terminals)
		domain.SortCoordinates(cables)
		det.Outcome = OutcomeValid
		det.Snapshot = &domain.NetworkSnapshot{
			ID:        domain.NetworkID(servers[0]),
			Server:    servers[0],
			Bays:      bays,
			Terminals: terminals,
			Cables:    cables,
			Members:   members,
		}
	}
	return det
}
