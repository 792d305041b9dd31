package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSphereSizes(t *testing.T) {
	m := Sphere(2, 16, 32)
	assert.Len(t, m.Vertices, 16*32)
	assert.Len(t, m.Indices, 15*31*6)
	assert.Len(t, m.VertexBytes(), 16*32*VertexSize)
	assert.Len(t, m.IndexBytes(), 15*31*6*4)

	for _, idx := range m.Indices {
		assert.Less(t, int(idx), len(m.Vertices))
	}
}

func TestSphereRadius(t *testing.T) {
	m := Sphere(3, 8, 8)
	for _, v := range m.Vertices {
		assert.InDelta(t, 3, v.Pos.Len(), 1e-4)
		assert.InDelta(t, 1, v.Normal.Len(), 1e-4)
	}
}

func TestSphereDegenerate(t *testing.T) {
	m := Sphere(1, 1, 8)
	assert.Empty(t, m.Vertices)
	assert.Nil(t, m.VertexBytes())
	assert.Nil(t, m.IndexBytes())
}
