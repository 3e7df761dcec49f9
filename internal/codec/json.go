package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"diskmesh/internal/domain"
)

// JSONCodec handles JSON import/export
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier
func (c *JSONCodec) Format() string {
	return "json"
}

// Parse imports a layout from JSON
func (c *JSONCodec) Parse(r io.Reader) (*domain.Layout, error) {
	var layout domain.Layout
	if err := json.NewDecoder(r).Decode(&layout); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return &layout, nil
}

// Export writes a layout as indented JSON
func (c *JSONCodec) Export(layout *domain.Layout, w io.Writer) error {
	return c.Encode(layout, w)
}

// Encode writes v as indented JSON
func (c *JSONCodec) Encode(v interface{}, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
