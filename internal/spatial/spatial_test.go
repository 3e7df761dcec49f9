package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"diskmesh/internal/domain"
)

func TestGridSetRemove(t *testing.T) {
	g := NewGrid()
	c := domain.At(0, 1, 2, 3)

	_, ok := g.KindAt(c)
	assert.False(t, ok)

	g.Set(c, domain.KindBay)
	k, ok := g.KindAt(c)
	assert.True(t, ok)
	assert.Equal(t, domain.KindBay, k)
	assert.Equal(t, 1, g.Len())

	removed, ok := g.Remove(c)
	assert.True(t, ok)
	assert.Equal(t, domain.KindBay, removed)
	assert.Zero(t, g.Len())

	_, ok = g.Remove(c)
	assert.False(t, ok)
}

func TestGridFindIsOrdered(t *testing.T) {
	g := NewGrid()
	g.Set(domain.At(0, 5, 0, 0), domain.KindServer)
	g.Set(domain.At(0, 1, 0, 0), domain.KindServer)
	g.Set(domain.At(0, 3, 0, 0), domain.KindCable)

	assert.Equal(t, []domain.Coordinate{domain.At(0, 1, 0, 0), domain.At(0, 5, 0, 0)}, g.Find(domain.KindServer))
}
