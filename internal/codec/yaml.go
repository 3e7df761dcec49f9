package codec

import (
	"fmt"
	"io"

	"diskmesh/internal/domain"

	"gopkg.in/yaml.v3"
)

// YAMLCodec handles YAML import/export. YAML layouts may also describe
// straight runs of one kind, which expand to one node per cell.
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

type yamlLayout struct {
	Version     string        `yaml:"version,omitempty"`
	Description string        `yaml:"description,omitempty"`
	Nodes       []domain.Node `yaml:"nodes"`
	Runs        []yamlRun     `yaml:"runs,omitempty"`
}

// yamlRun is an axis-aligned line of one kind, both ends inclusive.
type yamlRun struct {
	Kind domain.NodeKind   `yaml:"kind"`
	From domain.Coordinate `yaml:"from"`
	To   domain.Coordinate `yaml:"to"`
}

// Parse imports a layout from YAML
func (c *YAMLCodec) Parse(r io.Reader) (*domain.Layout, error) {
	var yl yamlLayout
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&yl); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	layout := &domain.Layout{
		Version:     yl.Version,
		Description: yl.Description,
		Nodes:       yl.Nodes,
	}
	for i, run := range yl.Runs {
		cells, err := run.expand()
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i, err)
		}
		layout.Nodes = append(layout.Nodes, cells...)
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return layout, nil
}

func (run yamlRun) expand() ([]domain.Node, error) {
	if run.From.Space != run.To.Space {
		return nil, fmt.Errorf("run crosses spaces %d and %d", run.From.Space, run.To.Space)
	}
	dx, dy, dz := sign(run.To.X-run.From.X), sign(run.To.Y-run.From.Y), sign(run.To.Z-run.From.Z)
	if abs(dx)+abs(dy)+abs(dz) > 1 {
		return nil, fmt.Errorf("run from %s to %s is not axis-aligned", run.From, run.To)
	}

	var out []domain.Node
	at := run.From
	for {
		out = append(out, domain.Node{Coordinate: at, Kind: run.Kind})
		if at == run.To {
			return out, nil
		}
		at = domain.At(at.Space, at.X+dx, at.Y+dy, at.Z+dz)
	}
}

// Export writes a layout as YAML
func (c *YAMLCodec) Export(layout *domain.Layout, w io.Writer) error {
	return c.Encode(layout, w)
}

// Encode writes v as YAML
func (c *YAMLCodec) Encode(v interface{}, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return encoder.Close()
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
