package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diskmesh/internal/domain"
)

const sampleYAML = `
version: "1"
nodes:
  - {space: 0, x: 0, y: 64, z: 0, kind: server}
  - {space: 0, x: 4, y: 64, z: 0, kind: bay}
runs:
  - kind: cable
    from: {space: 0, x: 1, y: 64, z: 0}
    to: {space: 0, x: 3, y: 64, z: 0}
`

func TestYAMLExpandsRuns(t *testing.T) {
	layout, err := NewYAMLCodec().Parse(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	require.Len(t, layout.Nodes, 5)
	assert.Equal(t, domain.Node{Coordinate: domain.At(0, 1, 64, 0), Kind: domain.KindCable}, layout.Nodes[2])
	assert.Equal(t, domain.Node{Coordinate: domain.At(0, 3, 64, 0), Kind: domain.KindCable}, layout.Nodes[4])
}

func TestYAMLRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"diagonal run", "runs:\n  - {kind: cable, from: {x: 0, y: 0}, to: {x: 2, y: 2}}\n", "axis-aligned"},
		{"cross space run", "runs:\n  - {kind: cable, from: {space: 0}, to: {space: 1}}\n", "crosses spaces"},
		{"unknown kind", "nodes:\n  - {x: 0, kind: anvil}\n", "unknown node kind"},
		{"duplicate", "nodes:\n  - {x: 0, kind: bay}\n  - {x: 0, kind: server}\n", "listed twice"},
		{"unknown field", "nodes: []\nextra: 1\n", "parse YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewYAMLCodec().Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExportParseAcrossFormats(t *testing.T) {
	layout := &domain.Layout{
		Version: "1",
		Nodes: []domain.Node{
			{Coordinate: domain.At(0, 0, 64, 0), Kind: domain.KindServer},
			{Coordinate: domain.At(0, 1, 64, 0), Kind: domain.KindBay},
		},
	}

	for _, format := range []string{"json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			c, err := ForFormat(format)
			require.NoError(t, err)
			assert.Equal(t, format, c.Format())

			var buf bytes.Buffer
			require.NoError(t, c.Export(layout, &buf))
			got, err := c.Parse(&buf)
			require.NoError(t, err)
			assert.Equal(t, layout, got)
		})
	}
}

func TestForPath(t *testing.T) {
	c, err := ForPath("world.yml")
	require.NoError(t, err)
	assert.Equal(t, "yaml", c.Format())

	_, err = ForPath("world")
	assert.Error(t, err)
	_, err = ForPath("world.toml")
	assert.Error(t, err)
}

func TestEncodeRefsAsText(t *testing.T) {
	slot := domain.DriveSlot{Bay: domain.At(0, 1, 64, 0), Network: domain.Orphaned("net_0_0_64_0")}

	var buf bytes.Buffer
	require.NoError(t, NewYAMLCodec().Encode(slot, &buf))
	assert.Contains(t, buf.String(), "orphaned:net_0_0_64_0")
}
