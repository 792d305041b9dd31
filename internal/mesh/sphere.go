// Package mesh generates the sphere shared by every body and the sky.
package mesh

import (
	"unsafe"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Vertex is one sphere vertex.
type Vertex struct {
	Pos    mgl32.Vec3
	Normal mgl32.Vec3
	UV     mgl32.Vec2
}

// VertexSize is the vertex stride in bytes.
const VertexSize = int(unsafe.Sizeof(Vertex{}))

// Mesh is an indexed triangle list.
type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
}

// Sphere returns a UV sphere with rings × sectors vertices. Each quad
// between neighbouring rings and sectors becomes two triangles wound
// counter-clockwise seen from outside.
func Sphere(radius float32, rings, sectors int) *Mesh {
	if rings < 2 || sectors < 2 {
		return &Mesh{}
	}
	m := &Mesh{
		Vertices: make([]Vertex, 0, rings*sectors),
		Indices:  make([]uint32, 0, (rings-1)*(sectors-1)*6),
	}
	r := 1 / float32(rings-1)
	s := 1 / float32(sectors-1)
	for i := 0; i < rings; i++ {
		for j := 0; j < sectors; j++ {
			y := math32.Sin(-math32.Pi/2 + math32.Pi*float32(i)*r)
			x := math32.Cos(2*math32.Pi*float32(j)*s) * math32.Sin(math32.Pi*float32(i)*r)
			z := math32.Sin(2*math32.Pi*float32(j)*s) * math32.Sin(math32.Pi*float32(i)*r)
			n := mgl32.Vec3{x, y, z}
			m.Vertices = append(m.Vertices, Vertex{
				Pos:    n.Mul(radius),
				Normal: n,
				UV:     mgl32.Vec2{float32(j) * s, float32(i) * r},
			})
		}
	}
	for i := 0; i < rings-1; i++ {
		for j := 0; j < sectors-1; j++ {
			a := uint32(i*sectors + j)
			b := uint32(i*sectors + j + 1)
			c := uint32((i+1)*sectors + j + 1)
			d := uint32((i+1)*sectors + j)
			m.Indices = append(m.Indices, a, d, c, c, b, a)
		}
	}
	return m
}

// VertexBytes returns the vertices as uploaded to the vertex buffer.
func (m *Mesh) VertexBytes() []byte {
	if len(m.Vertices) == 0 {
		return nil
	}
	size := len(m.Vertices) * VertexSize
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(&m.Vertices[0])), size))
	return out
}

// IndexBytes returns the indices as uploaded to the index buffer.
func (m *Mesh) IndexBytes() []byte {
	if len(m.Indices) == 0 {
		return nil
	}
	size := len(m.Indices) * 4
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(&m.Indices[0])), size))
	return out
}
