// Package camera turns pointer input into the view and projection used by
// the render pass.
package camera

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// UBO is the per-image uniform block read by the vertex stages.
type UBO struct {
	Projection mgl32.Mat4
	View       mgl32.Mat4
	Model      mgl32.Mat4
}

// Options configure a Camera.
type Options struct {
	// Zoom is the initial distance along -Z.
	Zoom float32
	// RotationSpeed is degrees per pixel of drag per second of frame time.
	RotationSpeed float32
	// ZoomSpeed is scene units per scroll step.
	ZoomSpeed float32
	MinZoom   float32
	MaxZoom   float32
	FOV       float32
	Near      float32
	Far       float32
}

// DefaultOptions frame the whole system from above the ecliptic.
func DefaultOptions() Options {
	return Options{
		Zoom:          -120,
		RotationSpeed: 20,
		ZoomSpeed:     4,
		MinZoom:       -600,
		MaxZoom:       -6,
		FOV:           60,
		Near:          0.1,
		Far:           2000,
	}
}

// Camera orbits the origin. Rotation is in degrees.
type Camera struct {
	opts     Options
	Rotation mgl32.Vec3
	Zoom     float32

	dragging bool
	last     mgl32.Vec2
	hasLast  bool
}

// New returns a camera tilted to look down on the orbital plane.
func New(opts Options) *Camera {
	return &Camera{
		opts:     opts,
		Rotation: mgl32.Vec3{25, 0, 0},
		Zoom:     opts.Zoom,
	}
}

// SetDragging starts or stops pointer rotation.
func (c *Camera) SetDragging(on bool) {
	c.dragging = on
	c.hasLast = false
}

// CursorMoved feeds a cursor position. While dragging, vertical motion
// pitches and horizontal motion yaws, scaled by the frame time.
func (c *Camera) CursorMoved(x, y float64, dt float32) {
	pos := mgl32.Vec2{float32(x), float32(y)}
	if c.dragging && c.hasLast {
		d := c.last.Sub(pos)
		c.Rotation[0] += d[1] * c.opts.RotationSpeed * dt
		c.Rotation[1] -= d[0] * c.opts.RotationSpeed * dt
	}
	c.last = pos
	c.hasLast = true
}

// Scroll zooms in for positive steps.
func (c *Camera) Scroll(steps float64) {
	z := c.Zoom + float32(steps)*c.opts.ZoomSpeed
	c.Zoom = math32.Max(c.opts.MinZoom, math32.Min(c.opts.MaxZoom, z))
}

// View is translate(0, 0, zoom) followed by rotations about X, Y and Z.
func (c *Camera) View() mgl32.Mat4 {
	view := mgl32.Translate3D(0, 0, c.Zoom)
	view = view.Mul4(mgl32.HomogRotate3DX(mgl32.DegToRad(c.Rotation[0])))
	view = view.Mul4(mgl32.HomogRotate3DY(mgl32.DegToRad(c.Rotation[1])))
	return view.Mul4(mgl32.HomogRotate3DZ(mgl32.DegToRad(c.Rotation[2])))
}

// Projection is a perspective projection with Y flipped for Vulkan clip
// space.
func (c *Camera) Projection(aspect float32) mgl32.Mat4 {
	proj := mgl32.Perspective(mgl32.DegToRad(c.opts.FOV), aspect, c.opts.Near, c.opts.Far)
	proj[5] *= -1
	return proj
}

// UBO returns the uniform block for a framebuffer of the given size.
func (c *Camera) UBO(width, height uint32) UBO {
	aspect := float32(1)
	if height > 0 {
		aspect = float32(width) / float32(height)
	}
	return UBO{
		Projection: c.Projection(aspect),
		View:       c.View(),
		Model:      mgl32.Ident4(),
	}
}
