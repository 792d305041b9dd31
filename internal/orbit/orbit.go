// Package orbit precomputes the orbit traces drawn behind the planets.
package orbit

import (
	"errors"
	"fmt"
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// K scales the number of points per trace.
const K = 10

// TimestepScale relates a trace's integration step to its radius, so
// every trace gets roughly the same number of points.
const TimestepScale = 0.01

// ErrDegenerate is returned for a non-positive radius or timestep.
var ErrDegenerate = errors.New("orbit: radius and timestep must be positive")

// Input describes one trace.
type Input struct {
	Radius float64
	// Timestep is the integration step. Zero means Radius*TimestepScale.
	Timestep float64
}

// Span locates one trace in the flattened point list.
type Span struct {
	First uint32
	Count uint32
}

// Traces is the flattened output of Precompute.
type Traces struct {
	Points []mgl32.Vec2
	Spans  []Span
}

// PointCount is the number of points in a trace of the given radius and
// timestep.
func PointCount(radius, timestep float64) int {
	return int(math.Ceil(K/timestep) * radius)
}

// Precompute integrates a circular orbit for every input around a
// central body with the given G·M and returns the XZ points of each.
// The body starts at (r, 0) with the circular speed along +Z, and each
// step applies semi-implicit Euler.
func Precompute(inputs []Input, centralMass float64) (*Traces, error) {
	out := &Traces{Spans: make([]Span, 0, len(inputs))}
	for i, in := range inputs {
		step := in.Timestep
		if step == 0 {
			step = in.Radius * TimestepScale
		}
		if in.Radius <= 0 || step <= 0 {
			return nil, fmt.Errorf("trace %d (radius %g, timestep %g): %w", i, in.Radius, step, ErrDegenerate)
		}
		n := PointCount(in.Radius, step)
		first := len(out.Points)
		x, z := in.Radius, 0.0
		vx, vz := 0.0, math.Sqrt(centralMass/in.Radius)
		for p := 0; p < n; p++ {
			r2 := x*x + z*z
			r := math.Sqrt(r2)
			a := centralMass / r2
			vx -= a * x / r * step
			vz -= a * z / r * step
			x += vx * step
			z += vz * step
			out.Points = append(out.Points, mgl32.Vec2{float32(x), float32(z)})
		}
		out.Spans = append(out.Spans, Span{First: uint32(first), Count: uint32(n)})
	}
	return out, nil
}

// Bytes returns the points as uploaded to the vertex buffer.
func (t *Traces) Bytes() []byte {
	if len(t.Points) == 0 {
		return nil
	}
	size := len(t.Points) * int(unsafe.Sizeof(mgl32.Vec2{}))
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(&t.Points[0])), size))
	return out
}
