package sim

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Advance applies one step of the advance kernel to every record. It is
// the host form of shaders/advance.comp and must stay in step with it.
//
// Bodies without a parent are pulled toward the origin and integrated
// with semi-implicit Euler. Satellites rotate their offset about Y and
// are placed relative to their parent's current position.
func Advance(bodies []Body, p Params) {
	dt := p.DeltaTime * p.Speed
	minR2 := p.MinRadius * p.MinRadius
	for i := range bodies {
		b := &bodies[i]
		for k := 0; k < 3; k++ {
			b.Rotation[k] += b.RotationSpeed[k] * dt
		}

		parent := b.Parent()
		if parent == NoParent || parent >= len(bodies) || parent == i {
			pos := b.Position.Vec3()
			vel := b.Velocity.Vec3()
			if r2 := pos.Dot(pos); r2 > minR2 {
				r := math32.Sqrt(r2)
				vel = vel.Add(pos.Mul(-p.CentralMass / (r2 * r) * dt))
			}
			pos = pos.Add(vel.Mul(dt))
			b.Position = pos.Vec4(b.Position[3])
			b.Velocity = vel.Vec4(b.Velocity[3])
			continue
		}

		sin, cos := math32.Sincos(b.Velocity[3] * dt)
		x, z := b.Offset[0], b.Offset[2]
		b.Offset[0] = x*cos + z*sin
		b.Offset[2] = -x*sin + z*cos
		at := bodies[parent].Position.Vec3().Add(b.Offset.Vec3())
		b.Position = at.Vec4(b.Position[3])
	}
}

// CircularSpeed is the speed of a circular orbit of the given radius
// around a central body with the given G·M.
func CircularSpeed(radius, centralMass float32) float32 {
	if radius <= 0 {
		return 0
	}
	return math32.Sqrt(centralMass / radius)
}

// circularVelocity returns the velocity of a body at pos on a circular
// orbit in the XZ plane. A body on +X moves toward +Z.
func circularVelocity(pos mgl32.Vec3, centralMass float32) mgl32.Vec3 {
	r := math32.Hypot(pos[0], pos[2])
	if r == 0 {
		return mgl32.Vec3{}
	}
	v := CircularSpeed(r, centralMass)
	return mgl32.Vec3{-pos[2] / r * v, 0, pos[0] / r * v}
}
