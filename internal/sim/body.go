// Package sim holds the celestial body records advanced by the compute
// pass, the parameters that drive it, and a host implementation of the
// same advance rule.
package sim

import (
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// Body is one record of the body state buffer. The layout is eight vec4
// fields, valid for std140 and std430 and for per-instance vertex input.
type Body struct {
	// Position xyz, w is mass.
	Position mgl32.Vec4
	// Velocity xyz, w is the angular rate of a satellite around its parent.
	Velocity mgl32.Vec4
	// Scale xyz, w is the texture layer used to render the body.
	Scale         mgl32.Vec4
	Rotation      mgl32.Vec4
	RotationSpeed mgl32.Vec4
	// Offset from the parent xyz, w is the parent index or -1.
	Offset mgl32.Vec4
	Tilt   mgl32.Vec4
	Tint   mgl32.Vec4
}

// BodySize is the size of one record in bytes.
const BodySize = int(unsafe.Sizeof(Body{}))

// NoParent marks a body that orbits the origin.
const NoParent = -1

// Parent returns the parent index or NoParent.
func (b *Body) Parent() int {
	if b.Offset[3] < 0 {
		return NoParent
	}
	return int(b.Offset[3])
}

// Layer returns the texture layer.
func (b *Body) Layer() int { return int(b.Scale[3]) }

// Bytes returns the records as the bytes uploaded to the device.
func Bytes(bodies []Body) []byte {
	if len(bodies) == 0 {
		return nil
	}
	size := len(bodies) * BodySize
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(&bodies[0])), size))
	return out
}
