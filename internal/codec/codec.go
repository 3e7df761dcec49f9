// Package codec reads and writes world layouts and renders values for the
// command line.
package codec

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"diskmesh/internal/domain"
)

// Importer reads a layout in one format
type Importer interface {
	Parse(r io.Reader) (*domain.Layout, error)
	Format() string
}

// Exporter writes a layout in one format
type Exporter interface {
	Export(layout *domain.Layout, w io.Writer) error
	Format() string
}

// Codec is both.
type Codec interface {
	Importer
	Exporter
	// Encode writes any value, used for CLI output.
	Encode(v interface{}, w io.Writer) error
}

// ForFormat returns the codec for "json" or "yaml".
func ForFormat(format string) (Codec, error) {
	switch strings.ToLower(format) {
	case "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// ForPath picks a codec from a file extension.
func ForPath(path string) (Codec, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return nil, fmt.Errorf("cannot infer format of %q", path)
	}
	return ForFormat(ext)
}
